package noise

import (
	"bytes"
	"crypto/rand"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dchat/limits"
)

func testPolicy() Policy {
	return Policy{
		Params:     FFDHE2048(),
		Cipher:     "ChaChaPoly",
		Hash:       "SHA256",
		MinVersion: 1,
	}
}

type upgradeOutcome struct {
	conn *Conn
	err  error
}

// upgradePair runs both ends of the handshake over a net.Pipe.
func upgradePair(t *testing.T, initPolicy, respPolicy Policy, initBinding, respBinding []byte) (upgradeOutcome, upgradeOutcome) {
	t.Helper()
	initU, err := NewUpgrader(initPolicy)
	require.NoError(t, err)
	respU, err := NewUpgrader(respPolicy)
	require.NoError(t, err)

	a, b := net.Pipe()
	done := make(chan upgradeOutcome, 1)
	go func() {
		c, err := respU.Upgrade(b, Responder, respBinding)
		done <- upgradeOutcome{c, err}
	}()

	c, err := initU.Upgrade(a, Initiator, initBinding)
	init := upgradeOutcome{c, err}
	if err != nil {
		// Unblock a responder still waiting on the pipe.
		b.Close()
	}
	resp := <-done
	if resp.err != nil {
		a.Close()
	}
	return init, resp
}

func TestUpgradeAndExchange(t *testing.T) {
	binding := []byte("client-digest|server-digest")
	init, resp := upgradePair(t, testPolicy(), testPolicy(), binding, binding)
	require.NoError(t, init.err)
	require.NoError(t, resp.err)
	defer init.conn.Close()
	defer resp.conn.Close()

	assert.Equal(t, ProtocolVersion, init.conn.PeerVersion())
	assert.Equal(t, ProtocolVersion, resp.conn.PeerVersion())

	go func() {
		init.conn.Write([]byte("hello"))
		init.conn.Write([]byte("world"))
	}()

	buf := make([]byte, 1024)
	n, err := resp.conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]), "one read must return one record")

	n, err = resp.conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	go resp.conn.Write([]byte("back"))
	n, err = init.conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "back", string(buf[:n]))
}

func TestLargeWriteSplitsIntoRecords(t *testing.T) {
	init, resp := upgradePair(t, testPolicy(), testPolicy(), nil, nil)
	require.NoError(t, init.err)
	require.NoError(t, resp.err)
	defer init.conn.Close()
	defer resp.conn.Close()

	payload := make([]byte, 3*limits.MaxRecordPayload+17)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		n, err := init.conn.Write(payload)
		if err == nil && n != len(payload) {
			err = io.ErrShortWrite
		}
		errc <- err
	}()

	buf := make([]byte, limits.MaxRecordPayload)
	n, err := resp.conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, limits.MaxRecordPayload, n)

	got := append([]byte(nil), buf[:n]...)
	rest := make([]byte, len(payload)-n)
	_, err = io.ReadFull(resp.conn, rest)
	require.NoError(t, err)
	got = append(got, rest...)

	require.NoError(t, <-errc)
	assert.True(t, bytes.Equal(payload, got))
}

func TestSmallReadBufferKeepsRemainder(t *testing.T) {
	init, resp := upgradePair(t, testPolicy(), testPolicy(), nil, nil)
	require.NoError(t, init.err)
	require.NoError(t, resp.err)
	defer init.conn.Close()
	defer resp.conn.Close()

	go init.conn.Write([]byte("abcdef"))

	small := make([]byte, 4)
	n, err := resp.conn.Read(small)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(small[:n]))
	n, err = resp.conn.Read(small)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(small[:n]))
}

func TestReadEOFOnClose(t *testing.T) {
	init, resp := upgradePair(t, testPolicy(), testPolicy(), nil, nil)
	require.NoError(t, init.err)
	require.NoError(t, resp.err)

	init.conn.Close()
	_, err := resp.conn.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}

func TestBindingMismatchFails(t *testing.T) {
	init, resp := upgradePair(t, testPolicy(), testPolicy(), []byte("one"), []byte("two"))
	assert.Error(t, init.err)
	if resp.err == nil {
		// The responder finishes before it can notice; its first read fails.
		_, err := resp.conn.Read(make([]byte, 8))
		assert.Error(t, err)
		resp.conn.Close()
	}
}

func TestCipherMismatchFails(t *testing.T) {
	other := testPolicy()
	other.Cipher = "AESGCM"
	init, resp := upgradePair(t, testPolicy(), other, nil, nil)
	assert.Error(t, init.err)
	if resp.conn != nil {
		resp.conn.Close()
	}
}

func TestParamsMismatchFails(t *testing.T) {
	p, err := rand.Prime(rand.Reader, 2048)
	require.NoError(t, err)
	other := testPolicy()
	other.Params = &Params{P: p, G: big.NewInt(2)}

	init, resp := upgradePair(t, testPolicy(), other, nil, nil)
	assert.Error(t, init.err)
	if resp.conn != nil {
		resp.conn.Close()
	}
}

func TestVersionFloor(t *testing.T) {
	old := testPolicy()
	old.Version = 1
	strict := testPolicy()
	strict.MinVersion = 2
	strict.Version = 2

	// Responder refuses an old initiator.
	init, resp := upgradePair(t, old, strict, nil, nil)
	assert.ErrorIs(t, resp.err, ErrVersionTooOld)
	assert.Error(t, init.err)

	// Initiator refuses an old responder.
	init, resp = upgradePair(t, strict, old, nil, nil)
	assert.ErrorIs(t, init.err, ErrVersionTooOld)
	if resp.conn != nil {
		resp.conn.Close()
	}
}

func TestNewUpgraderPolicy(t *testing.T) {
	p := testPolicy()
	p.Cipher = "RC4"
	_, err := NewUpgrader(p)
	assert.ErrorIs(t, err, ErrUnsupportedCipher)

	p = testPolicy()
	p.Hash = "MD5"
	_, err = NewUpgrader(p)
	assert.ErrorIs(t, err, ErrUnsupportedCipher)

	p = testPolicy()
	p.Params = nil
	_, err = NewUpgrader(p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestWeakParamsRequireOverride(t *testing.T) {
	prime, err := rand.Prime(rand.Reader, 768)
	require.NoError(t, err)
	weak := &Params{P: prime, G: big.NewInt(2)}

	assert.ErrorIs(t, weak.Check(false), ErrWeakParams)
	assert.NoError(t, weak.Check(true))

	p := testPolicy()
	p.Params = weak
	_, err = NewUpgrader(p)
	assert.ErrorIs(t, err, ErrWeakParams)

	p.AllowWeakDH = true
	init, resp := upgradePair(t, p, p, nil, nil)
	require.NoError(t, init.err)
	require.NoError(t, resp.err)
	init.conn.Close()
	resp.conn.Close()
}

func TestParamsPEMRoundTrip(t *testing.T) {
	want := FFDHE2048()
	data, err := want.MarshalPEM()
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN DH PARAMETERS")

	got, err := ParseParams(data)
	require.NoError(t, err)
	assert.Equal(t, 0, want.P.Cmp(got.P))
	assert.Equal(t, 0, want.G.Cmp(got.G))
	assert.Equal(t, 2048, got.Bits())
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhparam.pem")
	require.NoError(t, WriteParamsFile(path, FFDHE2048()))

	params, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, params.Bits())

	// Existing files are not overwritten.
	assert.Error(t, WriteParamsFile(path, FFDHE2048()))

	_, err = LoadParams(filepath.Join(dir, "missing.pem"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseParamsRejectsGarbage(t *testing.T) {
	_, err := ParseParams([]byte("not pem"))
	assert.ErrorIs(t, err, ErrInvalidParams)

	wrongType := []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")
	_, err = ParseParams(wrongType)
	assert.ErrorIs(t, err, ErrInvalidParams)

	badDER := []byte("-----BEGIN DH PARAMETERS-----\nAAAA\n-----END DH PARAMETERS-----\n")
	_, err = ParseParams(badDER)
	assert.ErrorIs(t, err, ErrInvalidParams)

	even := &Params{P: big.NewInt(1024), G: big.NewInt(2)}
	data, err := even.MarshalPEM()
	require.NoError(t, err)
	_, err = ParseParams(data)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestDHFuncAgreement(t *testing.T) {
	dh := NewDHFunc(FFDHE2048())
	assert.Equal(t, 256, dh.DHLen())
	assert.Equal(t, "FFDH2048", dh.DHName())

	a, err := dh.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	b, err := dh.GenerateKeypair(nil)
	require.NoError(t, err)
	assert.Len(t, a.Public, 256)
	assert.Len(t, a.Private, 256)

	ab, err := dh.DH(a.Private, b.Public)
	require.NoError(t, err)
	ba, err := dh.DH(b.Private, a.Public)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestDHFuncRejectsBadPublicValue(t *testing.T) {
	dh := NewDHFunc(FFDHE2048())
	kp, err := dh.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	oneValue := make([]byte, 256)
	oneValue[255] = 1
	_, err = dh.DH(kp.Private, oneValue)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = dh.DH(kp.Private, make([]byte, 256))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = dh.DH(kp.Private, []byte{5})
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestHandshakeRoleString(t *testing.T) {
	assert.Equal(t, "initiator", Initiator.String())
	assert.Equal(t, "responder", Responder.String())
}
