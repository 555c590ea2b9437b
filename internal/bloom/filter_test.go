package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := New(1000, 0.01)

	for i := 0; i < 1000; i++ {
		f.AddString(fmt.Sprintf("item-%d", i))
	}

	for i := 0; i < 1000; i++ {
		assert.True(t, f.ContainsString(fmt.Sprintf("item-%d", i)),
			"added item must always be found")
	}
	assert.Equal(t, uint64(1000), f.Count())
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.AddString(fmt.Sprintf("present-%d", i))
	}

	falsePositives := 0
	probes := 10000
	for i := 0; i < probes; i++ {
		if f.ContainsString(fmt.Sprintf("absent-%d", i)) {
			falsePositives++
		}
	}

	// Target FPR is 1%; allow generous slack for variance.
	rate := float64(falsePositives) / float64(probes)
	assert.Less(t, rate, 0.05, "false positive rate %f too high", rate)
}

func TestFilter_SerializeRoundTrip(t *testing.T) {
	f := New(100, 0.01)
	for i := 0; i < 100; i++ {
		f.AddString(fmt.Sprintf("trace-%d", i))
	}

	restored, err := Deserialize(f.Serialize())
	assert.NoError(t, err)
	assert.Equal(t, f.Count(), restored.Count())

	for i := 0; i < 100; i++ {
		assert.True(t, restored.ContainsString(fmt.Sprintf("trace-%d", i)))
	}
}

func TestDeserialize_Invalid(t *testing.T) {
	_, err := Deserialize([]byte("short"))
	assert.Error(t, err)

	f := New(64, 0.01)
	data := f.Serialize()
	_, err = Deserialize(data[:len(data)-4])
	assert.Error(t, err)
}
