package redis

import goredis "github.com/redis/go-redis/v9"

// Job scripts share a KEYS layout (see jobScriptKeys) and start ARGV with
// the job's set member, its index member and its ID.
const jobPrelude = `
local member, allMember, jobID = ARGV[1], ARGV[2], ARGV[3]

local function unindex()
  redis.call('ZREM', KEYS[2], member)
  redis.call('ZREM', KEYS[3], member)
  redis.call('ZREM', KEYS[4], allMember)
  redis.call('ZREM', KEYS[5], jobID)
  redis.call('SREM', KEYS[6], member)
  redis.call('SREM', KEYS[7], member)
  redis.call('SREM', KEYS[8], member)
end

local function index(state, score)
  redis.call('ZADD', KEYS[4], 0, allMember)
  redis.call('ZADD', KEYS[5], 0, jobID)
  if state == 'failed' then
    redis.call('SADD', KEYS[8], member)
    return
  end
  if state == 'leased' then
    redis.call('SADD', KEYS[7], member)
  else
    redis.call('SADD', KEYS[6], member)
  end
  redis.call('ZADD', KEYS[2], score, member)
  redis.call('ZADD', KEYS[3], score, member)
end

local function fence(leaseID)
  if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
  if redis.call('HGET', KEYS[1], 'lease_id') ~= leaseID then return -2 end
  return 0
end
`

// Script results below zero map to errors.
const (
	resultNotFound  = -1
	resultLeaseLost = -2
)

// ARGV: 4 override flag, 5 state, 6 due score, 7.. hash field/value pairs.
var insertScript = goredis.NewScript(jobPrelude + `
if redis.call('EXISTS', KEYS[1]) == 1 then
  if ARGV[4] ~= '1' then return 0 end
  unindex()
  redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1], unpack(ARGV, 7))
index(ARGV[5], ARGV[6])
return 1
`)

// ARGV: 4 lease ID, 5 state, 6 due score, 7.. hash field/value pairs.
var releaseScript = goredis.NewScript(jobPrelude + `
local f = fence(ARGV[4])
if f ~= 0 then return f end
unindex()
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 7))
index(ARGV[5], ARGV[6])
return 1
`)

// ARGV: 4 lease ID.
var completeScript = goredis.NewScript(jobPrelude + `
local f = fence(ARGV[4])
if f ~= 0 then return f end
unindex()
redis.call('DEL', KEYS[1])
return 1
`)

var deleteScript = goredis.NewScript(jobPrelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
unindex()
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS: the due sets to claim from. ARGV: 1 now score, 2 key prefix,
// 3 lease ID, 4 holder, 5 lease expiry, 6 expiry score, 7 updated_at.
// Replies with the claimed job hash, or nil when nothing is due.
var claimScript = goredis.NewScript(`
local best, bestScore
for i = 1, #KEYS do
  local r = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, 1)
  if r[1] then
    local score = tonumber(r[2])
    if not best or score < bestScore or (score == bestScore and r[1] < best) then
      best, bestScore = r[1], score
    end
  end
end
if not best then return false end

local prefix = ARGV[2]
local key = prefix .. 'job:' .. best
local queue = redis.call('HGET', key, 'queue')
if not queue then
  redis.call('ZREM', prefix .. 'due', best)
  return false
end

redis.call('HSET', key,
  'state', 'leased',
  'lease_id', ARGV[3],
  'lease_holder', ARGV[4],
  'lease_expires', ARGV[5],
  'updated_at', ARGV[7])
redis.call('SREM', prefix .. 'state:pending', best)
redis.call('SADD', prefix .. 'state:leased', best)
redis.call('ZADD', prefix .. 'due', ARGV[6], best)
redis.call('ZADD', prefix .. 'due:' .. queue, ARGV[6], best)
return redis.call('HGETALL', key)
`)

var scripts = []*goredis.Script{insertScript, releaseScript, completeScript, deleteScript, claimScript}
