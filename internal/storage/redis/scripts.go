package redis

const (
	// upsertRestrictionScript replaces a restriction and moves its package index
	upsertRestrictionScript = `
local record_key = KEYS[1]     -- timelock:restriction:{id}
local all_set = KEYS[2]        -- timelock:restrictions
local pkg_key = KEYS[3]        -- timelock:restriction:pkg:{package}

local id = ARGV[1]
local package = ARGV[2]
local prefix = ARGV[3]

-- Drop the index of a previous package name
local old_pkg = redis.call('HGET', record_key, 'package_name')
if old_pkg and old_pkg ~= package then
  local old_key = prefix .. 'restriction:pkg:' .. old_pkg
  if redis.call('GET', old_key) == id then
    redis.call('DEL', old_key)
  end
end

-- A package has one restriction: replace any other id holding it
local other = redis.call('GET', pkg_key)
if other and other ~= id then
  redis.call('DEL', prefix .. 'restriction:' .. other)
  redis.call('SREM', all_set, other)
end

redis.call('DEL', record_key)
local fields = {}
for i = 4, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', record_key, unpack(fields))

redis.call('SADD', all_set, id)
redis.call('SET', pkg_key, id)

return 'OK'
`

	// upsertRuleScript replaces a schedule or date block and its package set
	upsertRuleScript = `
local record_key = KEYS[1]     -- timelock:{kind}:{id}
local all_set = KEYS[2]        -- timelock:{kind}s
local pkg_set = KEYS[3]        -- timelock:{kind}s:pkg:{package}

local id = ARGV[1]
local package = ARGV[2]
local pkg_set_prefix = ARGV[3]

local old_pkg = redis.call('HGET', record_key, 'package_name')
if old_pkg and old_pkg ~= package then
  redis.call('SREM', pkg_set_prefix .. old_pkg, id)
end

redis.call('DEL', record_key)
local fields = {}
for i = 4, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', record_key, unpack(fields))

redis.call('SADD', all_set, id)
redis.call('SADD', pkg_set, id)

return 'OK'
`

	// upsertUsageScript writes a daily usage record and its indexes
	upsertUsageScript = `
local usage_key = KEYS[1]      -- timelock:usage:{package}:{date}
local dates_key = KEYS[2]      -- timelock:usage:dates:{package}
local index_key = KEYS[3]      -- timelock:usage:index:{date}
local packages_key = KEYS[4]   -- timelock:usage:packages

local package = ARGV[1]
local date = ARGV[2]
local score = tonumber(ARGV[3])
local used_minutes = ARGV[4]
local used_millis = ARGV[5]
local blocked = ARGV[6]
local last_updated = ARGV[7]

-- Never clear an existing blocked flag here
if blocked ~= '1' then
  local existing = redis.call('HGET', usage_key, 'blocked')
  if existing == '1' then
    blocked = '1'
  else
    blocked = '0'
  end
end

redis.call('HSET', usage_key,
  'package_name', package,
  'date', date,
  'used_minutes', used_minutes,
  'used_millis', used_millis,
  'blocked', blocked,
  'last_updated', last_updated
)

redis.call('ZADD', dates_key, score, date)
redis.call('SADD', index_key, package)
redis.call('SADD', packages_key, package)

return 'OK'
`

	// deleteUsageScript removes usage records of one package, optionally only
	// those dated before a cutoff score
	deleteUsageScript = `
local prefix = KEYS[1]         -- timelock:

local package = ARGV[1]
local max_score = ARGV[2]      -- '+inf' or '(' .. yyyymmdd

local dates_key = prefix .. 'usage:dates:' .. package
local dates = redis.call('ZRANGEBYSCORE', dates_key, '-inf', max_score)
for _, date in ipairs(dates) do
  redis.call('DEL', prefix .. 'usage:' .. package .. ':' .. date)
  redis.call('SREM', prefix .. 'usage:index:' .. date, package)
  redis.call('ZREM', dates_key, date)
end

if redis.call('ZCARD', dates_key) == 0 then
  redis.call('DEL', dates_key)
  redis.call('SREM', prefix .. 'usage:packages', package)
end

return #dates
`

	// deletePackageScript cascades a package removal across every rule table
	deletePackageScript = `
local prefix = KEYS[1]         -- timelock:

local package = ARGV[1]
local removed = 0

local pkg_key = prefix .. 'restriction:pkg:' .. package
local rid = redis.call('GET', pkg_key)
if rid then
  redis.call('DEL', prefix .. 'restriction:' .. rid)
  redis.call('SREM', prefix .. 'restrictions', rid)
  redis.call('DEL', pkg_key)
  removed = removed + 1
end

local kinds = {'schedule', 'dateblock'}
for _, kind in ipairs(kinds) do
  local set_key = prefix .. kind .. 's:pkg:' .. package
  local ids = redis.call('SMEMBERS', set_key)
  for _, id in ipairs(ids) do
    redis.call('DEL', prefix .. kind .. ':' .. id)
    redis.call('SREM', prefix .. kind .. 's', id)
    removed = removed + 1
  end
  redis.call('DEL', set_key)
end

local dates_key = prefix .. 'usage:dates:' .. package
local dates = redis.call('ZRANGE', dates_key, 0, -1)
for _, date in ipairs(dates) do
  redis.call('DEL', prefix .. 'usage:' .. package .. ':' .. date)
  redis.call('SREM', prefix .. 'usage:index:' .. date, package)
  removed = removed + 1
end
redis.call('DEL', dates_key)
redis.call('SREM', prefix .. 'usage:packages', package)

return removed
`
)
