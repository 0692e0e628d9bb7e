package payment

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.module",
	fx.Provide(NewService),
)

// WorkerModule registers the asynq handlers on the worker binary.
var WorkerModule = fx.Module("payment.worker",
	fx.Provide(NewHandler),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, h *Handler) {
	h.Register(mux)
}
