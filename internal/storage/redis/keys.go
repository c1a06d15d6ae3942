package redis

import (
	"fmt"

	"github.com/mcoot/fortunegame/internal/model"
)

const defaultKeyPrefix = "fortune"

// keyspace builds the Redis keys for one prefix
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return keyspace{prefix: prefix}
}

// user returns the Redis key for a User
func (k keyspace) user(id model.UserID) string {
	return fmt.Sprintf("%s:user:%d", k.prefix, id)
}

// usernameIndex returns the Redis key for the username -> user id index
func (k keyspace) usernameIndex(username string) string {
	return fmt.Sprintf("%s:idx:username:%s", k.prefix, username)
}

// fortune returns the Redis key for a Fortune
func (k keyspace) fortune(id model.FortuneID) string {
	return fmt.Sprintf("%s:fortune:%d", k.prefix, id)
}

// allFortunes returns the Redis key for the SET of every fortune id
func (k keyspace) allFortunes() string {
	return fmt.Sprintf("%s:idx:fortunes", k.prefix)
}

// categoryIndex returns the Redis key for the SET of fortune ids in a category
func (k keyspace) categoryIndex(c model.Category) string {
	return fmt.Sprintf("%s:idx:category:%d", k.prefix, int(c))
}

// submitterIndex returns the Redis key for the SET of fortune ids a user submitted
func (k keyspace) submitterIndex(id model.UserID) string {
	return fmt.Sprintf("%s:idx:submitter:%d", k.prefix, id)
}

// history returns the Redis key for a user's history LIST
func (k keyspace) history(id model.UserID) string {
	return fmt.Sprintf("%s:history:%d", k.prefix, id)
}

// sequence returns the Redis key of the id counter for an entity type
func (k keyspace) sequence(entity string) string {
	return fmt.Sprintf("%s:seq:%s", k.prefix, entity)
}

// seedLock returns the Redis key claimed by the first process to seed
func (k keyspace) seedLock() string {
	return fmt.Sprintf("%s:seeded", k.prefix)
}
