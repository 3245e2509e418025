package audioio

import "testing"

func TestResample_SameRateIsIdentity(t *testing.T) {
	samples := []int16{100, 200, 300, 400, 500}
	out := Resample(samples, 16000, 16000)

	if len(out) != len(samples) {
		t.Fatalf("len = %d, want %d", len(out), len(samples))
	}
	for i, s := range samples {
		if out[i] != s {
			t.Errorf("sample %d = %d, want %d", i, out[i], s)
		}
	}
}

func TestResample_Downsample3x(t *testing.T) {
	samples := make([]int16, 960) // 20ms at 48kHz
	for i := range samples {
		samples[i] = int16(i)
	}

	out := Resample(samples, 48000, 16000)
	if len(out) != 320 {
		t.Errorf("len = %d, want 320", len(out))
	}
}

func TestResample_Upsample3x(t *testing.T) {
	samples := make([]int16, 320) // 20ms at 16kHz
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	out := Resample(samples, 16000, 48000)
	if len(out) != 960 {
		t.Errorf("len = %d, want 960", len(out))
	}
}

func TestResample_Empty(t *testing.T) {
	if out := Resample(nil, 16000, 48000); len(out) != 0 {
		t.Errorf("nil input produced %d samples", len(out))
	}
	if out := Resample([]int16{}, 16000, 48000); len(out) != 0 {
		t.Errorf("empty input produced %d samples", len(out))
	}
}

func TestBytesToSamples(t *testing.T) {
	samples := BytesToSamples([]byte{0x02, 0x01, 0x04, 0x03})

	if len(samples) != 2 {
		t.Fatalf("len = %d, want 2", len(samples))
	}
	if samples[0] != 0x0102 || samples[1] != 0x0304 {
		t.Errorf("samples = %04x, %04x, want 0102, 0304", samples[0], samples[1])
	}
}

func TestSamplesToBytes(t *testing.T) {
	data := SamplesToBytes([]int16{0x0102, 0x0304})

	want := []byte{0x02, 0x01, 0x04, 0x03}
	if len(data) != len(want) {
		t.Fatalf("len = %d, want %d", len(data), len(want))
	}
	for i, b := range want {
		if data[i] != b {
			t.Errorf("byte %d = %02x, want %02x", i, data[i], b)
		}
	}
}

func TestStereoToMono(t *testing.T) {
	mono := StereoToMono([]int16{100, 200, 300, 400})

	if len(mono) != 2 {
		t.Fatalf("len = %d, want 2", len(mono))
	}
	if mono[0] != 150 || mono[1] != 350 {
		t.Errorf("mono = %d, %d, want 150, 350", mono[0], mono[1])
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS([]int16{0, 0, 0}); rms != 0 {
		t.Errorf("silence rms = %f, want 0", rms)
	}
	if rms := CalculateRMS([]int16{32767, 32767, 32767}); rms < 0.99 || rms > 1.01 {
		t.Errorf("full-scale rms = %f, want ~1.0", rms)
	}
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("empty rms = %f, want 0", rms)
	}
}

func TestResampleBytes(t *testing.T) {
	samples := make([]int16, 960) // 20ms at 48kHz
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	out := ResampleBytes(SamplesToBytes(samples), 48000, 16000)
	if len(out) != 320*2 {
		t.Errorf("len = %d bytes, want %d", len(out), 320*2)
	}
}

func BenchmarkResample_3x(b *testing.B) {
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Resample(samples, 48000, 16000)
	}
}
