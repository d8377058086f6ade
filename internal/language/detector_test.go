package language

import "testing"

func TestDetect_Labels(t *testing.T) {
	cases := []struct {
		in   string
		want Label
	}{
		{"मुझे कल के लिए टेबल चाहिए", Hindi},
		{"I would like a table for four tomorrow evening", English},
		{"kal shaam 7 baje table chahiye", Hinglish},
		{"table book karna hai for four people", Hinglish},
	}
	for _, tc := range cases {
		got, conf := Detect(tc.in, Unknown, 0)
		if got != tc.want {
			t.Fatalf("%q: got %s want %s (conf %.2f)", tc.in, got, tc.want, conf)
		}
		if conf <= 0 {
			t.Fatalf("%q: expected positive confidence", tc.in)
		}
	}
}

func TestDetect_FillerOnlyKeepsPrior(t *testing.T) {
	label, conf := Detect("haan ji hmm", Hindi, 0.9)
	if label != Hindi || conf != 0.9 {
		t.Fatalf("filler changed prior: %s %.2f", label, conf)
	}
	// No prior at all stays unknown; defaulting is the session's job.
	label, conf = Detect("accha theek hai", Unknown, 0)
	if label != Unknown || conf != 0 {
		t.Fatalf("filler invented a label: %s %.2f", label, conf)
	}
}

func TestIsFillerOnly(t *testing.T) {
	if !IsFillerOnly("haan haan ok") {
		t.Fatalf("expected filler-only")
	}
	if !IsFillerOnly("  ") {
		t.Fatalf("empty text counts as filler")
	}
	if IsFillerOnly("haan 4 log") {
		t.Fatalf("substantive content misread as filler")
	}
}

func TestDetect_PriorSmoothsMatchingLabel(t *testing.T) {
	_, fresh := Detect("booking please for tonight", English, 0)
	_, smoothed := Detect("booking please for tonight", English, 1.0)
	if smoothed <= fresh {
		t.Fatalf("matching prior should raise confidence: fresh %.2f smoothed %.2f", fresh, smoothed)
	}
}

func TestDetect_SwitchIsImmediateAtHighConfidence(t *testing.T) {
	label, conf := Detect("what time do you open on Sunday please tell me", Hindi, 0.9)
	if label != English {
		t.Fatalf("expected english, got %s (%.2f)", label, conf)
	}
	if conf <= 0.85 {
		t.Fatalf("expected high confidence english, got %.2f", conf)
	}
}
