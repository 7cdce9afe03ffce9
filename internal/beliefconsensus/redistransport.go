// RedisTransport ships delta-sync batches through Redis pub/sub, reusing
// internal/persist's RedisEvaler abstraction (LoggingRedisEvaler for
// dependency-free runs, GoRedisEvaler for a real cluster) rather than
// introducing a second Redis client wrapper.
package beliefconsensus

import (
	"context"
	"fmt"

	persistence "github.com/etalazz/vsm/internal/persist"
)

// RedisTransport publishes delta batches to a per-peer Redis channel via
// PUBLISH, evaluated through persistence.RedisEvaler's Eval so it shares
// the same client plumbing as internal/respool's Redis audit sink.
type RedisTransport struct {
	Evaler persistence.RedisEvaler
}

const publishScript = `return redis.call('PUBLISH', KEYS[1], ARGV[1])`

// Send implements PeerTransport.
func (t RedisTransport) Send(peer string, batch []byte) error {
	channel := fmt.Sprintf("beliefsync:%s", peer)
	_, err := t.Evaler.Eval(context.Background(), publishScript, []string{channel}, string(batch))
	return err
}
