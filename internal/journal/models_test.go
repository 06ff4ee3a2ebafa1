package journal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityStampRoundTrip(t *testing.T) {
	stamp := IdentityStamp{
		Name:  "Josephine Dupont",
		ID:    uuid.New(),
		Email: "josephine@example.org",
	}

	parsed, err := ParseIdentityStamp(stamp.String())
	require.NoError(t, err)
	assert.Equal(t, stamp, parsed)
}

func TestEntryUsagerID(t *testing.T) {
	t.Run("extracts the embedded id", func(t *testing.T) {
		id := uuid.New()
		e := &Entry{Usager: IdentityStamp{Name: "A B", ID: id, Email: "a@b.fr"}.String()}
		assert.Equal(t, id, e.UsagerID())
	})

	t.Run("degrades to nil on malformed snapshot", func(t *testing.T) {
		for _, usager := range []string{"", "garbage", "name - notauuid - mail", "too - many - parts - here"} {
			e := &Entry{Usager: usager}
			assert.Equal(t, uuid.Nil, e.UsagerID(), "usager=%q", usager)
		}
	})
}
