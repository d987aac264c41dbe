/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package queue

import "github.com/redis/go-redis/v9"

// enqueueScript creates the execution hash and pushes its key onto the
// ready list. Returns 0 when the key already exists.
//
// KEYS[1] execution hash, KEYS[2] ready list
// ARGV function, args, meta, created_at, ttl ms, key
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'function', ARGV[1], 'args', ARGV[2], 'meta', ARGV[3], 'state', 'queued', 'created_at', ARGV[4])
if tonumber(ARGV[5]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
redis.call('RPUSH', KEYS[2], ARGV[6])
return 1
`)

// startScript claims a queued execution for a worker. Returns 1 when claimed.
var startScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'queued' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'running', 'started_at', ARGV[1])
return 1
`)

// finishScript records the outcome unless the execution is already terminal,
// so a cancellation is never overwritten by a late completion.
// Returns -1 when missing, 0 when already terminal, 1 when written.
//
// ARGV state, outcome field (result or error), outcome value, finished_at
var finishScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return -1
end
if state == 'completed' or state == 'failed' or state == 'cancelled' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], ARGV[2], ARGV[3], 'finished_at', ARGV[4])
redis.call('HDEL', KEYS[1], 'progress')
return 1
`)

// cancelScript marks a non-terminal execution cancelled and drops it from
// the ready list. Returns -1 when missing, 0 when already terminal, 1 when cancelled.
//
// KEYS[1] execution hash, KEYS[2] ready list; ARGV finished_at, key
var cancelScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return -1
end
if state == 'completed' or state == 'failed' or state == 'cancelled' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'cancelled', 'finished_at', ARGV[1])
redis.call('HDEL', KEYS[1], 'progress')
redis.call('LREM', KEYS[2], 0, ARGV[2])
return 1
`)

// progressScript updates the progress text of a running execution
var progressScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'running' then
  return 0
end
redis.call('HSET', KEYS[1], 'progress', ARGV[1])
return 1
`)
