package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TriggerGuard is the non-blocking duplicate-trigger guard.
type TriggerGuard interface {
	// TryStart reports whether the caller may start a deliberation for contractID.
	TryStart(ctx context.Context, contractID string) (bool, error)
	// Finish releases contractID and starts its cooldown.
	Finish(ctx context.Context, contractID string) error
}

// LocalTrigger adapts a Registry to TriggerGuard for single-process use.
type LocalTrigger struct {
	Registry *Registry
}

// TryStart implements TriggerGuard.
func (l LocalTrigger) TryStart(_ context.Context, contractID string) (bool, error) {
	return l.Registry.TryStart(contractID), nil
}

// Finish implements TriggerGuard.
func (l LocalTrigger) Finish(_ context.Context, contractID string) error {
	l.Registry.Finish(contractID)
	return nil
}

// redisFinishScript swaps our in-progress marker for a cooldown marker, but
// only if we still own it.
// KEYS[1] = trigger key
// ARGV[1] = owner token
// ARGV[2] = cooldown in milliseconds (0 deletes the key)
var redisFinishScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
    return 0
end
local cooldown = tonumber(ARGV[2])
if cooldown > 0 then
    redis.call("SET", KEYS[1], "cooldown", "PX", cooldown)
else
    redis.call("DEL", KEYS[1])
end
return 1
`)

// RedisTrigger is a TriggerGuard shared by every replica pointed at the same
// Redis. One key per contract holds either the starter's token while running
// or "cooldown" until the cooldown expires. The running marker carries a TTL
// so a crashed replica cannot wedge a contract forever.
type RedisTrigger struct {
	client   redis.UniversalClient
	prefix   string
	runTTL   time.Duration
	cooldown time.Duration

	mu     sync.Mutex
	tokens map[string]string // contractID -> our owner token
}

// NewRedisTrigger creates a RedisTrigger connected to addr.
func NewRedisTrigger(addr, password string, db int, runTTL, cooldown time.Duration) *RedisTrigger {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisTriggerWithClient(rdb, runTTL, cooldown)
}

// NewRedisTriggerWithClient creates a RedisTrigger over an existing client.
func NewRedisTriggerWithClient(client redis.UniversalClient, runTTL, cooldown time.Duration) *RedisTrigger {
	return &RedisTrigger{
		client:   client,
		prefix:   "arbiter:trigger:",
		runTTL:   runTTL,
		cooldown: cooldown,
		tokens:   make(map[string]string),
	}
}

func (r *RedisTrigger) key(contractID string) string {
	return r.prefix + contractID
}

// TryStart implements TriggerGuard with SET NX PX.
func (r *RedisTrigger) TryStart(ctx context.Context, contractID string) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(contractID), token, r.runTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis trigger start %s: %w", contractID, err)
	}
	if ok {
		r.mu.Lock()
		r.tokens[contractID] = token
		r.mu.Unlock()
	}
	return ok, nil
}

// Finish implements TriggerGuard. Finishing a contract this replica did not
// start is a no-op.
func (r *RedisTrigger) Finish(ctx context.Context, contractID string) error {
	r.mu.Lock()
	token, ok := r.tokens[contractID]
	delete(r.tokens, contractID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := redisFinishScript.Run(ctx, r.client, []string{r.key(contractID)}, token, r.cooldown.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis trigger finish %s: %w", contractID, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisTrigger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisTrigger) Close() error {
	return r.client.Close()
}
