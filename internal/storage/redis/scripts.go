package redis

import "github.com/redis/go-redis/v9"

const (
	// createSessionScript opens a session only if the plate has no active one.
	// Returns 1 when created, 0 when an active session already exists.
	createSessionScript = `
local active_key = KEYS[1]     -- kpark:plate:{plate}:active
local list_key = KEYS[2]       -- kpark:plate:{plate}:sessions
local session_key = KEYS[3]    -- kpark:session:{id}

local id = ARGV[1]
local plate = ARGV[2]
local entry_time = ARGV[3]
local entry_method = ARGV[4]
local confidence = ARGV[5]
local image = ARGV[6]

if redis.call('EXISTS', active_key) == 1 then
  return 0
end

redis.call('HSET', session_key,
  'id', id,
  'plate', plate,
  'entryTime', entry_time,
  'paid', 'false',
  'entryMethod', entry_method,
  'confidence', confidence,
  'image', image,
  'version', 1
)

-- Session list preserves insertion order
redis.call('RPUSH', list_key, id)
redis.call('SET', active_key, id)

return 1
`

	// closeSessionScript closes a session if it is still active at the
	// expected version. Returns 1 when closed, 0 on a version or state
	// conflict, -1 when the session does not exist for this plate.
	closeSessionScript = `
local session_key = KEYS[1]    -- kpark:session:{id}
local active_key = KEYS[2]     -- kpark:plate:{plate}:active

local id = ARGV[1]
local plate = ARGV[2]
local expected_version = ARGV[3]
local exit_time = ARGV[4]
local duration_minutes = ARGV[5]
local amount_due = ARGV[6]
local exit_confidence = ARGV[7]
local exit_image = ARGV[8]

local current = redis.call('HMGET', session_key, 'plate', 'version', 'paid', 'exitTime')
if not current[1] or current[1] ~= plate then
  return -1
end

if current[2] ~= expected_version then
  return 0
end

-- Already closed
if current[3] == 'true' or current[4] then
  return 0
end

redis.call('HSET', session_key,
  'exitTime', exit_time,
  'durationMinutes', duration_minutes,
  'amountDue', amount_due,
  'exitConfidence', exit_confidence,
  'exitImage', exit_image,
  'paid', 'true',
  'version', tonumber(expected_version) + 1
)

if redis.call('GET', active_key) == id then
  redis.call('DEL', active_key)
end

return 1
`

	// registerPlateScript assigns a plate to an account unless another
	// account owns it. Returns 1 on success, 0 if taken.
	registerPlateScript = `
local owner_key = KEYS[1]      -- kpark:plate:{plate}:owner
local account_key = KEYS[2]    -- kpark:account:{account}:plates
local registered_set = KEYS[3] -- kpark:plates:registered

local account = ARGV[1]
local plate = ARGV[2]

local owner = redis.call('GET', owner_key)
if owner and owner ~= account then
  return 0
end

redis.call('SET', owner_key, account)
redis.call('SADD', account_key, plate)
redis.call('SADD', registered_set, plate)

return 1
`

	// removePlateScript releases a plate owned by the account. Returns 1 on
	// success, 0 if the account does not own the plate.
	removePlateScript = `
local owner_key = KEYS[1]      -- kpark:plate:{plate}:owner
local account_key = KEYS[2]    -- kpark:account:{account}:plates
local registered_set = KEYS[3] -- kpark:plates:registered

local account = ARGV[1]
local plate = ARGV[2]

if redis.call('GET', owner_key) ~= account then
  return 0
end

redis.call('DEL', owner_key)
redis.call('SREM', account_key, plate)
redis.call('SREM', registered_set, plate)

return 1
`
)

var (
	createSession = redis.NewScript(createSessionScript)
	closeSession  = redis.NewScript(closeSessionScript)
	registerPlate = redis.NewScript(registerPlateScript)
	removePlate   = redis.NewScript(removePlateScript)
)
