package hl7

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleADT = "MSH|^~\\&|IPMS|KNH|MEDIATOR|SHR|20240102103000||ADT^A04^ADT_A01|MSG0001|P|2.5\n" +
	"EVN|A04|20240102103000\n" +
	"PID|1||123456^^^KNH^MR~99887766^^^NATID^NI||Otieno^Jane||19900101|F\n"

func TestParse(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	assert.Equal(t, "ADT^A04^ADT_A01", msg.Type)
	assert.Equal(t, "ADT", msg.MessageCode())
	assert.Equal(t, "A04", msg.TriggerEvent())
	assert.Equal(t, "MSG0001", msg.ControlID)
	assert.Equal(t, "2.5", msg.Version)
	assert.Equal(t, "IPMS", msg.SendingApp)
	assert.Equal(t, "SHR", msg.ReceivingFac)
	require.Len(t, msg.Segments, 3)

	pid, ok := msg.Segment("PID")
	require.True(t, ok)
	assert.Equal(t, "123456", pid.Component(3, 1))
	assert.Equal(t, "Otieno", pid.Component(5, 1))
	assert.Equal(t, "", pid.Component(40, 1))

	t.Run("Round Trip Uses Segment Terminator", func(t *testing.T) {
		assert.Equal(t, NormalizeSegments(sampleADT), msg.String())
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := Parse("\r\n\n")
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("Missing MSH", func(t *testing.T) {
		_, err := Parse("PID|1||123")
		assert.ErrorIs(t, err, ErrMissingMSH)
	})
}

func TestNormalizeSegments(t *testing.T) {
	assert.Equal(t, "MSH|a\rPID|b\rOBX|c", NormalizeSegments("MSH|a\r\nPID|b\n\nOBX|c\n"))
	assert.NotContains(t, NormalizeSegments(sampleADT), "\n")
}

func TestFraming(t *testing.T) {
	payload := []byte(NormalizeSegments(sampleADT))
	framed := Frame(payload)

	assert.Equal(t, StartBlock, framed[0])
	assert.Equal(t, []byte{EndBlock, CarriageReturn}, framed[len(framed)-2:])

	t.Run("Unframe", func(t *testing.T) {
		extracted, rest, found := Unframe(append(framed, 'x'))
		assert.True(t, found)
		assert.Equal(t, payload, extracted)
		assert.Equal(t, []byte("x"), rest)

		_, _, found = Unframe(framed[:len(framed)-1])
		assert.False(t, found)
	})

	t.Run("Read Two Frames", func(t *testing.T) {
		stream := append(append([]byte("noise"), framed...), Frame([]byte("MSH|second"))...)
		reader := bufio.NewReader(bytes.NewReader(stream))

		first, err := ReadFrame(reader)
		require.NoError(t, err)
		assert.Equal(t, payload, first)

		second, err := ReadFrame(reader)
		require.NoError(t, err)
		assert.Equal(t, "MSH|second", string(second))
	})

	t.Run("Frame At The Size Limit", func(t *testing.T) {
		large := bytes.Repeat([]byte("A"), MaxFrameSize)
		reader := bufio.NewReader(bytes.NewReader(Frame(large)))

		read, err := ReadFrame(reader)
		require.NoError(t, err)
		assert.Len(t, read, MaxFrameSize)
	})

	t.Run("Unterminated Frame Stops At The Size Limit", func(t *testing.T) {
		stream := &countingReader{r: io.MultiReader(
			bytes.NewReader([]byte{StartBlock}),
			infiniteReader{},
		)}
		reader := bufio.NewReader(stream)

		_, err := ReadFrame(reader)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
		assert.LessOrEqual(t, stream.n, MaxFrameSize+2*reader.Size())
	})

	t.Run("Endless Noise Before The Start Block", func(t *testing.T) {
		stream := &countingReader{r: infiniteReader{}}
		reader := bufio.NewReader(stream)

		_, err := ReadFrame(reader)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
		assert.LessOrEqual(t, stream.n, MaxFrameSize+2*reader.Size())
	})
}

// infiniteReader yields 'A' forever and never an MLLP control byte.
type infiniteReader struct{}

func (infiniteReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'A'
	}
	return len(p), nil
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestBuildACK(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	ack := BuildACK(msg, AckAccept, "ACK0001", "", time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC))
	parsed, err := Parse(ack)
	require.NoError(t, err)

	assert.Equal(t, "MEDIATOR", parsed.SendingApp)
	assert.Equal(t, "IPMS", parsed.ReceivingApp)
	assert.Equal(t, "ACK^A04^ACK", parsed.Type)

	msa, ok := parsed.Segment("MSA")
	require.True(t, ok)
	assert.Equal(t, AckAccept, msa.Field(1))
	assert.Equal(t, "MSG0001", msa.Field(2))

	t.Run("Error Text Escaped", func(t *testing.T) {
		nack := BuildACK(msg, AckError, "ACK0002", "broker|down", time.Now())
		assert.True(t, strings.Contains(nack, "broker\\F\\down"))
	})
}

func TestIsAccepted(t *testing.T) {
	assert.True(t, IsAccepted("MSH|^~\\&|IPMS\rMSA|AA|MSG0001"))
	assert.False(t, IsAccepted("MSH|^~\\&|IPMS\rMSA|AE|MSG0001"))
	assert.False(t, IsAccepted(""))
}
