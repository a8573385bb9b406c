package queue

import "github.com/redis/go-redis/v9"

// Multi-key transitions run as Lua so a crash or a competing worker never
// observes a half-applied move.

// KEYS: dedup marker, job key, wait list, delayed set
// ARGV: job id, job json, ready-at ms (0 = now), job key prefix
var enqueueScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing and redis.call('EXISTS', ARGV[4] .. existing) == 1 then
  return existing
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
else
  redis.call('LPUSH', KEYS[3], ARGV[1])
end
return ''
`)

// KEYS: wait list, active list
// ARGV: lease key prefix, lease ttl ms
var moveToActiveScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
  return false
end
redis.call('LPUSH', KEYS[2], id)
redis.call('SET', ARGV[1] .. id, '1', 'PX', ARGV[2])
return id
`)

// KEYS: active list, lease key, dedup marker, finished set, job key
// ARGV: job id, job json, finished-at ms, keep ('1' or '0')
var finishScript = redis.NewScript(`
redis.call('LREM', KEYS[1], 1, ARGV[1])
redis.call('DEL', KEYS[2])
if redis.call('GET', KEYS[3]) == ARGV[1] then
  redis.call('DEL', KEYS[3])
end
if ARGV[4] == '1' then
  redis.call('SET', KEYS[5], ARGV[2])
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
else
  redis.call('DEL', KEYS[5])
end
return 1
`)

// KEYS: delayed set, wait list
// ARGV: job id
var promoteScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
  redis.call('LPUSH', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// KEYS: active list, wait list, lease key
// ARGV: job id
var recoverScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
  return 0
end
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)
