package sensors

import (
	"fmt"
	"testing"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame wraps a sentence body in NMEA framing with a computed checksum.
func frame(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

func TestParsePMAG(t *testing.T) {
	line := frame("PMAG,125440,16380,-12,40,3,-5,1,210,-45,-260")

	sentence, err := nmea.Parse(line)
	require.NoError(t, err)

	pmag, ok := sentence.(PMAG)
	require.True(t, ok, "expected a PMAG sentence, got %T", sentence)

	assert.Equal(t, int64(125440), pmag.TimestampMS)
	assert.Equal(t, int64(16380), pmag.Ax)
	assert.Equal(t, int64(-12), pmag.Ay)
	assert.Equal(t, int64(40), pmag.Az)
	assert.Equal(t, int64(3), pmag.Gx)
	assert.Equal(t, int64(-5), pmag.Gy)
	assert.Equal(t, int64(1), pmag.Gz)
	assert.Equal(t, int64(210), pmag.Mx)
	assert.Equal(t, int64(-45), pmag.My)
	assert.Equal(t, int64(-260), pmag.Mz)
}

func TestPMAGToRawSample(t *testing.T) {
	line := frame("PMAG,2000,100,200,300,-1,-2,-3,10,20,30")

	sentence, err := nmea.Parse(line)
	require.NoError(t, err)
	raw := sentence.(PMAG).RawSample()

	assert.Equal(t, uint32(2000), raw.TimestampMS)
	assert.Equal(t, int16(100), raw.Ax)
	assert.Equal(t, int16(300), raw.Az)
	assert.Equal(t, int16(-3), raw.Gz)
	assert.Equal(t, int16(20), raw.My)
}

func TestParsePMAGBadChecksum(t *testing.T) {
	_, err := nmea.Parse("$PMAG,1,2,3,4,5,6,7,8,9,10*00")
	assert.Error(t, err)
}

func TestParsePMAGShortSentence(t *testing.T) {
	_, err := nmea.Parse(frame("PMAG,1,2,3"))
	assert.Error(t, err)
}
