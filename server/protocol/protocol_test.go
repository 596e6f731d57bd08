package protocol

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/protocol/lz77"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const referenceInfo = "1-5f7a3c00-0001"

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

func aliveReply() *kbin.Node {
	return kbin.NewVoid("pcbtracker").
		SetAttr("method", "alive").
		SetAttr("status", "0").
		SetAttr("expire", "600").
		SetAttr("ecenable", "1").
		Append(kbin.NewU32("time", 1601337600))
}

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo(referenceInfo)
	require.NoError(t, err)
	assert.Equal(t, Info{Version: 1, Time: 0x5f7a3c00, Counter: 1}, info)
	assert.Equal(t, referenceInfo, info.String())
	assert.Equal(t, "60ad1c4736b7f94e0e8d316e15b251e4", hex.EncodeToString(info.Key()))

	for _, bad := range []string{"", "1-5f7a3c00", "x-5f7a3c00-0001", "1-5f7a3c0g-0001", "1-5f7a3c00-00001"} {
		_, err := ParseInfo(bad)
		assert.True(t, errors.HasCode(err, ErrInvalidInfo), "%q", bad)
	}
}

func TestCryptIsSymmetric(t *testing.T) {
	info, err := ParseInfo(referenceInfo)
	require.NoError(t, err)

	sealed := info.crypt([]byte("hello"))
	assert.Equal(t, []byte{0xa3, 0xce, 0x18, 0xf7, 0xce}, sealed)
	assert.Equal(t, []byte("hello"), info.crypt(sealed))
}

func TestDecodeReferenceRequest(t *testing.T) {
	frame := Frame{
		Compression: "lz77",
		Info:        referenceInfo,
		Body:        readFixture(t, "pcbtracker_alive.request.bin"),
	}

	env, err := Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, RootCall, env.Root.Name)
	assert.Equal(t, "LDJ:J:A:A:2020092900", env.Model())
	assert.Equal(t, "0120", env.SourceID())
	assert.Equal(t, "pcbtracker", env.Service().Name)
	assert.Equal(t, "alive", env.Method())
	assert.Equal(t, referenceInfo, env.CorrelationID)
	assert.True(t, env.Options.Compressed())
	assert.True(t, env.Options.Encrypted())
	assert.Equal(t, kbin.EncodingShiftJIS, env.Options.Document.Encoding)

	seq, ok := env.Sequence()
	assert.True(t, ok)
	assert.Equal(t, uint16(1), seq)

	// the decoded tree re-encodes to the same document bytes
	payload, err := Serialize(env)
	require.NoError(t, err)
	assert.Equal(t, readFixture(t, "pcbtracker_alive.request.kbin"), payload)
}

func TestEncodeReferenceResponse(t *testing.T) {
	req := &Envelope{
		Root:          kbin.NewVoid(RootCall).SetAttr("model", "LDJ:J:A:A:2020092900").SetAttr("srcid", "0120"),
		Options:       Options{Document: kbin.DefaultOptions(), Compression: CompressionLZ77, Info: referenceInfo},
		CorrelationID: referenceInfo,
	}

	resp := NewResponse(req, aliveReply(), false)
	assert.Equal(t, "0120", resp.Root.Attr("dstid"))
	assert.Equal(t, referenceInfo, resp.CorrelationID)

	frame, err := Encode(resp)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, frame.Compression)
	assert.Equal(t, referenceInfo, frame.Info)
	assert.Equal(t, readFixture(t, "pcbtracker_alive.response.bin"), frame.Body)
}

func TestPackDecodeRoundTrip(t *testing.T) {
	root := kbin.NewVoid(RootCall).SetAttr("model", "KFC:J:A:A:2019020600").Append(
		kbin.NewVoid("eventlog").SetAttr("method", "write").Append(
			kbin.NewString("retrycnt", "0"),
			kbin.NewArray("data", kbin.TypeU32, []uint32{1, 2, 3}),
		),
	)

	for _, opts := range []Options{
		{Document: kbin.DefaultOptions(), Compression: CompressionNone},
		{Document: kbin.DefaultOptions(), Compression: CompressionLZ77},
		{Document: kbin.DefaultOptions(), Compression: CompressionLZ77, Info: "1-00000000-ffff"},
		{Document: kbin.Options{Format: kbin.FormatText, Encoding: kbin.EncodingUTF8}, Info: "1-12345678-0002"},
	} {
		frame, err := Encode(&Envelope{Root: root, Options: opts})
		require.NoError(t, err)

		if !opts.Compressed() {
			frame.Compression = ""
		}
		env, err := Decode(frame)
		require.NoError(t, err)
		assert.True(t, root.Equal(env.Root))
		assert.Equal(t, opts.Document.Format, env.Options.Document.Format)
		assert.NotEmpty(t, env.CorrelationID)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("unsupported compression", func(t *testing.T) {
		_, err := Decode(Frame{Compression: "gzip", Body: []byte{0xa0}})
		assert.True(t, errors.HasCode(err, ErrUnsupportedCompression))
	})

	t.Run("bad info", func(t *testing.T) {
		_, err := Decode(Frame{Info: "nope", Body: []byte{0xa0}})
		assert.True(t, errors.HasCode(err, ErrInvalidInfo))
	})

	t.Run("truncated compression", func(t *testing.T) {
		full := lz77.Compress(readFixture(t, "pcbtracker_alive.request.kbin"))
		_, err := Decode(Frame{Compression: CompressionLZ77, Body: full[:len(full)/2]})
		assert.True(t, errors.HasCode(err, lz77.ErrTruncatedInput))
	})

	t.Run("declared length overrun", func(t *testing.T) {
		full := lz77.Compress(readFixture(t, "pcbtracker_alive.request.kbin"))
		_, err := Decode(Frame{Compression: CompressionLZ77, Body: full, DeclaredLength: 10})
		assert.True(t, errors.HasCode(err, lz77.ErrOverrunInput))
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := Decode(Frame{Body: []byte{0xa0, 0x42, 0x80}})
		assert.True(t, errors.HasCode(err, kbin.ErrMalformedEnvelope))
	})

	t.Run("empty envelope", func(t *testing.T) {
		_, err := Serialize(&Envelope{})
		assert.True(t, errors.HasCode(err, ErrInvalidEnvelope))
	})
}

func TestNewErrorResponse(t *testing.T) {
	req := &Envelope{
		Root: kbin.NewVoid(RootCall).SetAttr("srcid", "0120").Append(
			kbin.NewVoid("cardmng").SetAttr("method", "inquire"),
		),
		Options: Options{Document: kbin.DefaultOptions(), Info: referenceInfo},
	}

	resp := NewErrorResponse(req, "1")
	body := resp.Root.Child("cardmng")
	require.NotNil(t, body)
	assert.Equal(t, "inquire", body.Attr("method"))
	assert.Equal(t, "1", body.Attr("status"))
	assert.Equal(t, referenceInfo, resp.Options.Info)

	anon := NewErrorResponse(nil, "1")
	assert.Equal(t, "1", anon.Root.Child("error").Attr("status"))
	assert.Equal(t, CompressionNone, anon.Options.Compression)
}
