package configsvc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type testConfig struct {
	Interval int    `json:"interval"`
	Name     string `json:"name"`
}

func startTestService(t *testing.T) *Service {
	t.Helper()
	svc := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Start(ctx)
	select {
	case <-svc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("config service never became ready")
	}
	return svc
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRegisterOrInitSeedsMissingFile(t *testing.T) {
	svc := startTestService(t)
	path := filepath.Join(t.TempDir(), "conf", "test.yml")
	def := testConfig{Interval: 7500, Name: "default"}

	cfg, err := RegisterOrInit(svc, path, def, func(testConfig, error) {})
	if err != nil {
		t.Fatal(err)
	}
	if cfg != def {
		t.Errorf("got %+v, want defaults", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file not written: %v", err)
	}

	// the seeded file reads back as the defaults
	again, err := readConfig(path, testConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if again != def {
		t.Errorf("seeded file parses as %+v, want %+v", again, def)
	}
}

func TestRegisterOrInitDeliversReloads(t *testing.T) {
	svc := startTestService(t)
	path := filepath.Join(t.TempDir(), "test.yml")
	def := testConfig{Interval: 7500, Name: "default"}

	var mu sync.Mutex
	var last testConfig
	_, err := RegisterOrInit(svc, path, def, func(cfg testConfig, err error) {
		if err != nil {
			t.Errorf("reload error: %v", err)
			return
		}
		mu.Lock()
		last = cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("interval: 10000\nname: edited\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == testConfig{Interval: 10000, Name: "edited"}
	}, "reload never delivered")
}
