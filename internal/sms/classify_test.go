package sms

import (
	"sync"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status string
		want   Kind
	}{
		{"delivery echo", "anything", "delivered", KindStatusEcho},
		{"queued echo", "anything", "queued", KindStatusEcho},
		{"stop exact", "STOP", "", KindStop},
		{"stop embedded", "please stop texting me", "", KindStop},
		{"unsubscribe", "unsubscribe", "", KindStop},
		{"french stop", "arreter", "", KindStop},
		{"opt out phrase", "I want to opt out", "", KindStop},
		{"stopping is not stop", "the leak keeps stopping and starting", "", KindEmergency},
		{"auto reply", "I'm driving right now, I'll reply later", "", KindAutoReply},
		{"out of office", "Out of office until Monday", "", KindAutoReply},
		{"help", "HELP", "", KindHelp},
		{"aide", "aide", "", KindHelp},
		{"start", "START", "", KindStart},
		{"unstop", "unstop", "", KindStart},
		{"positive", "great", "", KindPositive},
		{"negative", "terrible", "", KindNegative},
		{"burst pipe", "my pipe burst and water is everywhere", "", KindEmergency},
		{"flooding basement", "basement is flooding", "", KindEmergency},
		{"single urgent word", "urgent", "", KindEmergency},
		{"not urgent override", "pipe burst last month, not urgent, just need a quote", "", KindStandard},
		{"quote request", "can I get a quote for a new water heater", "", KindStandard},
		{"scheduling", "when can you come next week for an estimate", "", KindStandard},
		{"plain message", "need someone to look at my sink", "", KindStandard},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.body, tc.status)
			if got.Kind != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.body, got.Kind, tc.want)
			}
		})
	}
}

func TestClassifyIsSafeUnderConcurrency(t *testing.T) {
	bodies := []string{
		"STOP", "my pipe burst and water is everywhere", "HELP",
		"can I get a quote", "I'm driving, will reply later", "basement is flooding",
	}
	want := []Kind{
		KindStop, KindEmergency, KindHelp,
		KindStandard, KindAutoReply, KindEmergency,
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			for j := range bodies {
				if got := Classify(bodies[j], ""); got.Kind != want[j] {
					errs <- bodies[j]
					return
				}
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)
	for body := range errs {
		t.Errorf("concurrent Classify(%q) returned wrong kind", body)
	}
}

func TestStopWinsOverEverything(t *testing.T) {
	got := Classify("stop, my basement is flooding", "")
	if got.Kind != KindStop {
		t.Errorf("kind = %v, want stop even with emergency keywords", got.Kind)
	}
}

func TestUrgencyConfidenceBounded(t *testing.T) {
	got := Classify("burst flood sewage overflowing water everywhere emergency", "")
	if got.Kind != KindEmergency {
		t.Fatalf("kind = %v", got.Kind)
	}
	if got.Confidence > 0.95 {
		t.Errorf("confidence = %v, want capped at 0.95", got.Confidence)
	}
}
