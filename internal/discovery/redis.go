package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

// Redis reads candidate lists maintained by an external ranking job:
//
//	SMEMBERS <prefix>:<category>            symbols
//	HGETALL  <prefix>:<category>:<symbol>   name, sector, industry, ...
//
// A symbol without a hash is returned with empty descriptive fields.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a new redis-backed source.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "feed:candidates"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(parts ...string) string {
	return r.prefix + ":" + strings.Join(parts, ":")
}

func (r *Redis) ListCandidateSymbols(ctx context.Context, category string) ([]Candidate, error) {
	category = strings.ToLower(category)
	symbols, err := r.client.SMembers(ctx, r.key(category)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s candidates: %w", category, err)
	}
	sort.Strings(symbols)
	if len(symbols) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(symbols))
	for i, sym := range symbols {
		cmds[i] = pipe.HGetAll(ctx, r.key(category, sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load %s candidate data: %w", category, err)
	}

	out := make([]Candidate, 0, len(symbols))
	for i, sym := range symbols {
		fields, _ := cmds[i].Result()
		out = append(out, Candidate{
			Symbol:   strings.ToUpper(sym),
			Name:     fields["name"],
			Sector:   fields["sector"],
			Industry: fields["industry"],
			Exchange: fields["exchange"],
			Country:  fields["country"],
			Currency: fields["currency"],
		})
	}
	return out, nil
}

// Put registers a candidate under category. Used by seeding tools and tests.
func (r *Redis) Put(ctx context.Context, category string, c Candidate) error {
	category = strings.ToLower(category)
	sym := strings.ToUpper(c.Symbol)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key(category), sym)
	fields := map[string]interface{}{}
	for k, v := range map[string]string{
		"name": c.Name, "sector": c.Sector, "industry": c.Industry,
		"exchange": c.Exchange, "country": c.Country, "currency": c.Currency,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	if len(fields) > 0 {
		pipe.HSet(ctx, r.key(category, sym), fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}
