package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"marinedesk-portal/pkg/config"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator issues the human-readable codes handed out to customers.
// License keys must stay short enough to read over the phone, so the
// sequence part is base36 with a small random suffix.
type Generator interface {
	NextLicenseKey(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb    *redis.Client
	prefix string
}

type Params struct {
	fx.In

	Redis  *redis.Client
	Config *config.Config
}

func NewRedisGenerator(p Params) Generator {
	prefix := p.Config.License.KeyPrefix
	if prefix == "" {
		prefix = "LIC"
	}
	return &RedisGenerator{
		rdb:    p.Redis,
		prefix: prefix,
	}
}

func (g *RedisGenerator) NextLicenseKey(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, g.prefix)
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	today := time.Now().UTC().Format("060102")
	key := fmt.Sprintf("seq:%s:%s", prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		expire := time.Until(time.Now().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	encodedSeq := strings.ToUpper(fmt.Sprintf("%03s", strconv.FormatInt(seq, 36)))

	randSuffix, err := randomAlphaNumeric(4)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, today, encodedSeq, randSuffix), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
