package scripts

// The four atomic scripts required by the queue. enqueue and dequeue keep the
// job-hash key layout (qube:queue:job:{jobId}) baked in, since job ids are
// allocated from a single global counter inside enqueue rather than threaded
// through as a key argument; update_status and get_status take the job hash
// key as KEYS[1].

const enqueueSource = `
local groupsKey = KEYS[1]
local groupKey = KEYS[2]
local groupName = ARGV[1]
local payload = ARGV[2]

local id = redis.call("INCR", "qube:queue:id")
local jobKey = "qube:queue:job:" .. id

redis.call("HSET", jobKey, "status", "pending", "progress", "0", "group", groupName, "data", payload)
redis.call("RPUSH", groupKey, id)
redis.call("SADD", groupsKey, groupKey)

return tostring(id)
`

const dequeueSource = `
local groupKey = KEYS[1]

local id = redis.call("LPOP", groupKey)
if not id then
  return nil
end

local jobKey = "qube:queue:job:" .. id
local status = redis.call("HGET", jobKey, "status")
if status ~= "pending" then
  return nil
end

redis.call("HSET", jobKey, "status", "active")
local data = redis.call("HGET", jobKey, "data")
local group = redis.call("HGET", jobKey, "group")

return {id, data, group}
`

const updateStatusSource = `
local jobKey = KEYS[1]
local newStatus = ARGV[1]

local current = redis.call("HGET", jobKey, "status")
if not current then
  return 0
end
if current == newStatus then
  return 1
end

local allowed = false
if current == "pending" and newStatus == "active" then
  allowed = true
elseif current == "active" and (newStatus == "completed" or newStatus == "failed") then
  allowed = true
end
if not allowed then
  return 0
end

redis.call("HSET", jobKey, "status", newStatus)
return 1
`

const getStatusSource = `
local jobKey = KEYS[1]
local status = redis.call("HGET", jobKey, "status")
if not status then
  return nil
end
return status
`
