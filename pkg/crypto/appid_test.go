package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAppID() AppID {
	var id AppID
	id[0] = 0x00
	for i := 1; i < AppIDLength; i++ {
		id[i] = byte(i * 7)
	}
	return id
}

func TestCanonicalAppIDRoundTrip(t *testing.T) {
	id := sampleAppID()
	human := id.String()
	require.Len(t, human, len(AppIDPrefix)+1+34+6)
	assert.Equal(t, AppIDPrefix+"1", human[:5])

	got, err := CanonicalAppID(human)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestCanonicalAppIDRejectsTruncation(t *testing.T) {
	human := sampleAppID().String()

	for _, bad := range []string{
		human[:26],
		human[:len(human)-1],
		human + "q",
		"",
	} {
		_, err := CanonicalAppID(bad)
		assert.Error(t, err, bad)
	}
}

func TestCanonicalAppIDRejectsWrongPrefix(t *testing.T) {
	_, err := CanonicalAppID("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
	assert.Error(t, err)
}

func TestAppIDText(t *testing.T) {
	id := sampleAppID()
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back AppID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
	assert.False(t, back.IsZero())
}
