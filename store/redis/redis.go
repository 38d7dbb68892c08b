// Package redis provides a Redis-backed DocumentStore for creditgate.
//
// Each entitlement document is a Redis hash. Assigned key slots are indexed
// in a separate hash (slot -> user) maintained by the same Lua scripts that
// write documents, so slot claims are atomic across instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/creditgate"
)

// Store is a Redis-backed DocumentStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var (
	_ creditgate.DocumentStore = (*Store)(nil)
	_ creditgate.SlotClaimer   = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "creditgate:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed DocumentStore.
// The client must be a connected *goredis.Client. Scripts touch two keys,
// so cluster deployments need a prefix with a hash tag, e.g. "{creditgate}:".
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "creditgate:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) userKey(userID string) string { return s.keyPrefix + "user:" + userID }
func (s *Store) slotsKey() string             { return s.keyPrefix + "slots" }

const (
	fieldEmail            = "email"
	fieldDisplayName      = "display_name"
	fieldPlan             = "plan"
	fieldMonthlyCredits   = "monthly_credits"
	fieldMonthlyRenewalAt = "monthly_renewal_at"
	fieldDailyCredits     = "daily_credits"
	fieldLastDailyResetAt = "last_daily_reset_at"
	fieldKeySlot          = "key_slot"
	fieldSchemaVersion    = "schema_version"
	fieldCreatedAt        = "created_at"
	fieldUpdatedAt        = "updated_at"
)

// writeScript writes document fields and keeps the slot index current.
// KEYS[1] = user hash key
// KEYS[2] = slot index hash key
// ARGV[1] = mode ("replace", "merge" or "update")
// ARGV[2] = user id
// ARGV[3..] = field/value pairs
//
// Returns:
//
//	1 = written
//	0 = document not found (update only)
var writeScript = goredis.NewScript(`
local user_key = KEYS[1]
local slots_key = KEYS[2]
local mode = ARGV[1]
local user_id = ARGV[2]

local exists = redis.call("EXISTS", user_key) == 1
if mode == "update" and not exists then
    return 0
end

if mode == "replace" and exists then
    local old = redis.call("HGET", user_key, "key_slot")
    if old and redis.call("HGET", slots_key, old) == user_id then
        redis.call("HDEL", slots_key, old)
    end
    redis.call("DEL", user_key)
end

for i = 3, #ARGV, 2 do
    redis.call("HSET", user_key, ARGV[i], ARGV[i + 1])
    if ARGV[i] == "key_slot" and tonumber(ARGV[i + 1]) > 0 then
        redis.call("HSET", slots_key, ARGV[i + 1], user_id)
    end
end
return 1
`)

// incrementScript adds a delta to a credit field, clamped at zero.
// The Unbounded sentinel (-1) is left untouched.
// KEYS[1] = user hash key
// ARGV[1] = field
// ARGV[2] = delta
//
// Returns {found, value}.
var incrementScript = goredis.NewScript(`
local user_key = KEYS[1]
if redis.call("EXISTS", user_key) == 0 then
    return {0, 0}
end

local value = tonumber(redis.call("HGET", user_key, ARGV[1]) or "0")
if value == -1 then
    return {1, -1}
end

value = value + tonumber(ARGV[2])
if value < 0 then
    value = 0
end
redis.call("HSET", user_key, ARGV[1], tostring(value))
return {1, value}
`)

// claimScript creates a document holding the lowest free slot.
// KEYS[1] = user hash key
// KEYS[2] = slot index hash key
// ARGV[1] = pool size
// ARGV[2] = user id
// ARGV[3..] = field/value pairs
//
// Returns the claimed slot (0 when the pool is exhausted), or -1 if the
// document already exists.
var claimScript = goredis.NewScript(`
local user_key = KEYS[1]
local slots_key = KEYS[2]
local pool_size = tonumber(ARGV[1])
local user_id = ARGV[2]

if redis.call("EXISTS", user_key) == 1 then
    return -1
end

local slot = 0
for i = 1, pool_size do
    if redis.call("HEXISTS", slots_key, tostring(i)) == 0 then
        slot = i
        break
    end
end

for i = 3, #ARGV, 2 do
    redis.call("HSET", user_key, ARGV[i], ARGV[i + 1])
end
redis.call("HSET", user_key, "key_slot", tostring(slot))
if slot > 0 then
    redis.call("HSET", slots_key, tostring(slot), user_id)
end
return slot
`)

// Get returns the document for a user.
func (s *Store) Get(ctx context.Context, userID string) (creditgate.Document, error) {
	vals, err := s.client.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return creditgate.Document{}, fmt.Errorf("creditgate/redis: get: %w", err)
	}
	if len(vals) == 0 {
		return creditgate.Document{}, creditgate.ErrNotFound
	}
	doc, err := decode(userID, vals)
	if err != nil {
		return creditgate.Document{}, fmt.Errorf("creditgate/redis: get: %w", err)
	}
	return doc, nil
}

// Set writes a document.
func (s *Store) Set(ctx context.Context, doc creditgate.Document, merge bool) error {
	mode := "replace"
	if merge {
		mode = "merge"
	}
	if _, err := s.write(ctx, mode, doc.UserID, doc); err != nil {
		return fmt.Errorf("creditgate/redis: set: %w", err)
	}
	return nil
}

// Update writes the present fields of an existing document.
func (s *Store) Update(ctx context.Context, userID string, fields creditgate.Document) error {
	written, err := s.write(ctx, "update", userID, fields)
	if err != nil {
		return fmt.Errorf("creditgate/redis: update: %w", err)
	}
	if !written {
		return creditgate.ErrNotFound
	}
	return nil
}

// Increment atomically adds delta to a credit field.
func (s *Store) Increment(ctx context.Context, userID string, field creditgate.Field, delta int64) (int64, error) {
	if field != creditgate.FieldMonthlyCredits && field != creditgate.FieldDailyCredits {
		return 0, fmt.Errorf("creditgate/redis: increment: unknown field %q", field)
	}

	res, err := incrementScript.Run(ctx, s.client,
		[]string{s.userKey(userID)},
		string(field), delta,
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("creditgate/redis: increment: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("creditgate/redis: unexpected increment result: %v", res)
	}
	if res[0] == 0 {
		return 0, creditgate.ErrNotFound
	}
	return res[1], nil
}

// AssignedSlots returns every slot present in the slot index.
func (s *Store) AssignedSlots(ctx context.Context) ([]int, error) {
	keys, err := s.client.HKeys(ctx, s.slotsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("creditgate/redis: assigned slots: %w", err)
	}
	slots := make([]int, 0, len(keys))
	for _, k := range keys {
		slot, err := strconv.Atoi(k)
		if err != nil || slot <= 0 {
			continue
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// CreateWithSlot creates doc with the lowest free slot in one script call.
func (s *Store) CreateWithSlot(ctx context.Context, doc creditgate.Document, poolSize int) (int, error) {
	args := []interface{}{poolSize, doc.UserID}
	doc.KeySlot = nil
	args = append(args, encode(doc)...)

	slot, err := claimScript.Run(ctx, s.client,
		[]string{s.userKey(doc.UserID), s.slotsKey()},
		args...,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("creditgate/redis: create: %w", err)
	}
	if slot < 0 {
		return 0, creditgate.ErrAlreadyExists
	}
	return slot, nil
}

func (s *Store) write(ctx context.Context, mode, userID string, doc creditgate.Document) (bool, error) {
	if userID == "" {
		return false, errors.New("empty user id")
	}
	args := append([]interface{}{mode, userID}, encode(doc)...)
	n, err := writeScript.Run(ctx, s.client,
		[]string{s.userKey(userID), s.slotsKey()},
		args...,
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// encode flattens the present fields of doc into HSET pairs.
func encode(doc creditgate.Document) []interface{} {
	var args []interface{}
	put := func(field, value string) { args = append(args, field, value) }

	if doc.Email != "" {
		put(fieldEmail, doc.Email)
	}
	if doc.DisplayName != "" {
		put(fieldDisplayName, doc.DisplayName)
	}
	if doc.Plan != nil {
		put(fieldPlan, string(*doc.Plan))
	}
	if doc.MonthlyCredits != nil {
		put(fieldMonthlyCredits, strconv.FormatInt(*doc.MonthlyCredits, 10))
	}
	if doc.MonthlyRenewalAt != nil {
		put(fieldMonthlyRenewalAt, formatTime(*doc.MonthlyRenewalAt))
	}
	if doc.DailyCredits != nil {
		put(fieldDailyCredits, strconv.FormatInt(*doc.DailyCredits, 10))
	}
	if doc.LastDailyResetAt != nil {
		put(fieldLastDailyResetAt, formatTime(*doc.LastDailyResetAt))
	}
	if doc.KeySlot != nil {
		put(fieldKeySlot, strconv.Itoa(*doc.KeySlot))
	}
	if doc.SchemaVersion != 0 {
		put(fieldSchemaVersion, strconv.Itoa(doc.SchemaVersion))
	}
	if !doc.CreatedAt.IsZero() {
		put(fieldCreatedAt, formatTime(doc.CreatedAt))
	}
	if !doc.UpdatedAt.IsZero() {
		put(fieldUpdatedAt, formatTime(doc.UpdatedAt))
	}
	return args
}

// decode rebuilds a document from a hash. Missing fields stay nil.
func decode(userID string, vals map[string]string) (creditgate.Document, error) {
	doc := creditgate.Document{
		UserID:      userID,
		Email:       vals[fieldEmail],
		DisplayName: vals[fieldDisplayName],
	}

	if v, ok := vals[fieldPlan]; ok {
		doc.Plan = creditgate.Ptr(creditgate.Plan(v))
	}

	var err error
	if doc.MonthlyCredits, err = parseInt(vals, fieldMonthlyCredits); err != nil {
		return doc, err
	}
	if doc.DailyCredits, err = parseInt(vals, fieldDailyCredits); err != nil {
		return doc, err
	}
	if doc.MonthlyRenewalAt, err = parseTime(vals, fieldMonthlyRenewalAt); err != nil {
		return doc, err
	}
	if doc.LastDailyResetAt, err = parseTime(vals, fieldLastDailyResetAt); err != nil {
		return doc, err
	}

	slot, err := parseInt(vals, fieldKeySlot)
	if err != nil {
		return doc, err
	}
	if slot != nil {
		doc.KeySlot = creditgate.Ptr(int(*slot))
	}

	if v, ok := vals[fieldSchemaVersion]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return doc, fmt.Errorf("field %s: %w", fieldSchemaVersion, err)
		}
		doc.SchemaVersion = n
	}
	if t, err := parseTime(vals, fieldCreatedAt); err != nil {
		return doc, err
	} else if t != nil {
		doc.CreatedAt = *t
	}
	if t, err := parseTime(vals, fieldUpdatedAt); err != nil {
		return doc, err
	} else if t != nil {
		doc.UpdatedAt = *t
	}
	return doc, nil
}

func parseInt(vals map[string]string, field string) (*int64, error) {
	v, ok := vals[field]
	if !ok {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	return &n, nil
}

func parseTime(vals map[string]string, field string) (*time.Time, error) {
	v, ok := vals[field]
	if !ok {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
