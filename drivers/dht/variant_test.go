package dht

import (
	"math/rand"
	"testing"
)

func TestVariantDecode(t *testing.T) {
	tests := []struct {
		v      Variant
		f      Frame
		deciC  int32
		deciRH int32
	}{
		{DHT22, Frame{0x02, 0x8C, 0x00, 0xA6, 0x34}, 166, 652},
		{DHT22, Frame{0x01, 0x0A, 0x80, 0x19, 0xA4}, -25, 266},
		{DHT22, Frame{0x03, 0xE8, 0x03, 0x20, 0x00}, 800, 1000},
		{DHT11, Frame{0x2D, 0x00, 0x14, 0x00, 0x41}, 200, 450},
		{DHT11, Frame{0x2D, 0x07, 0x14, 0x09, 0x00}, 200, 450}, // fractions ignored
		{DHT11, Frame{0x2D, 0x00, 0x05, 0x80, 0xB2}, -50, 450},
	}
	for _, tc := range tests {
		r := tc.v.Decode(tc.f)
		if r.DeciCelsius() != tc.deciC || r.DeciRelHumidity() != tc.deciRH {
			t.Errorf("%v %v: got %d/%d want %d/%d", tc.v, tc.f, r.DeciCelsius(), r.DeciRelHumidity(), tc.deciC, tc.deciRH)
		}
	}
}

func TestVariantEncodeInvertsDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		r := NewReading(int32(rng.Intn(1201))-400, int32(rng.Intn(1001)))
		f := DHT22.Encode(r)
		if !f.Valid() {
			t.Fatalf("encoded frame %v has bad checksum", f)
		}
		if got := DHT22.Decode(f); got != r {
			t.Fatalf("dht22 %+v -> %v -> %+v", r, f, got)
		}

		r11 := NewReading((int32(rng.Intn(81))-20)*10, int32(rng.Intn(101))*10)
		if got := DHT11.Decode(DHT11.Encode(r11)); got != r11 {
			t.Fatalf("dht11 %+v -> %+v", r11, got)
		}
	}
}

func TestVariantTiming(t *testing.T) {
	if DHT11.MinInterval() < DHT11.StartSignal() || DHT22.MinInterval() < DHT22.StartSignal() {
		t.Fatal("min interval shorter than start signal")
	}
	if DHT22.MinInterval() <= DHT11.MinInterval() {
		t.Fatalf("dht22 interval %v should exceed dht11 %v", DHT22.MinInterval(), DHT11.MinInterval())
	}
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]Variant{
		"dht11": DHT11, "DHT11": DHT11, "11": DHT11,
		"dht22": DHT22, " AM2302 ": DHT22, "dht21": DHT22, "am2301": DHT22, "22": DHT22,
	} {
		got, err := ParseVariant(in)
		if err != nil || got != want {
			t.Errorf("ParseVariant(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseVariant("bme280"); err == nil {
		t.Error("expected error for unknown part")
	}
	if Variant(0).String() != "unknown" {
		t.Error("zero variant must be unknown")
	}
}

func TestBoundsContains(t *testing.T) {
	b := DHT11.Range()
	if !b.Contains(NewReading(200, 450)) {
		t.Error("typical reading rejected")
	}
	if b.Contains(NewReading(-250, 450)) {
		t.Error("dht11 accepted -25.0 °C")
	}
	if !DHT22.Range().Contains(NewReading(-250, 450)) {
		t.Error("dht22 rejected -25.0 °C")
	}
	if DHT22.Range().Contains(NewReading(200, 1001)) {
		t.Error("accepted humidity above 100%")
	}
}

func TestReadingFloat(t *testing.T) {
	r := NewReading(-25, 652)
	if r.Celsius() != -2.5 || r.RelHumidity() != 65.2 {
		t.Fatalf("got %v/%v", r.Celsius(), r.RelHumidity())
	}
}
