package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := NewAddress(TLPrefix, raw)

	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "tl1"))

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, TLPrefix, decoded.Prefix())
	require.Equal(t, raw, decoded.Bytes())
	require.Equal(t, addr.Raw(), decoded.Raw())
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "tl1", "nonsense", "tl1qqqq"} {
		_, err := DecodeAddress(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestNewAddressPanicsOnBadLength(t *testing.T) {
	require.Panics(t, func() { NewAddress(TLPrefix, []byte{1, 2, 3}) })
}

func TestIsZero(t *testing.T) {
	require.True(t, NewAddress(TLPrefix, make([]byte, AddressLength)).IsZero())
	require.True(t, Address{}.IsZero())

	raw := make([]byte, AddressLength)
	raw[19] = 1
	require.False(t, NewAddress(TLPrefix, raw).IsZero())
}

func TestKeyToAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.PubKey().Address()
	require.Equal(t, TLPrefix, addr.Prefix())
	require.Len(t, addr.Bytes(), AddressLength)

	restored, err := PrivateKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, addr.String(), restored.PubKey().Address().String())
}
