package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeScript drops a shell script into dir and returns a manifest entry
// pointing at it. Tests drive the runner with sh instead of python.
func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}

func shManifest(kind domain.OperationKind, script string) Manifest {
	return Manifest{
		Interpreter: "sh",
		Scripts:     map[string]string{string(kind): script},
	}
}

func TestScriptRunner_Success(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok.sh", "echo worker running\nexit 0\n")

	r := NewScriptRunner(ScriptConfig{
		ScriptDir:   dir,
		Manifest:    shManifest(domain.OpImage, "ok.sh"),
		Credentials: domain.Credentials{APIKey: "k", Organization: "o"},
		Logger:      testLogger(),
	})

	err := r.Run(context.Background(), t.TempDir(), domain.GenerationRequest{
		Text: "a cat", Requester: "alice", Kind: domain.OpImage,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestScriptRunner_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "fail.sh", "echo oops >&2\nexit 3\n")

	r := NewScriptRunner(ScriptConfig{
		ScriptDir: dir,
		Manifest:  shManifest(domain.OpImage, "fail.sh"),
		Logger:    testLogger(),
	})

	err := r.Run(context.Background(), t.TempDir(), domain.GenerationRequest{
		Text: "a cat", Requester: "alice", Kind: domain.OpImage,
	})
	if err == nil {
		t.Fatal("expected error for exit code 3")
	}
	if !strings.Contains(err.Error(), "code 3") {
		t.Errorf("error should carry the exit code, got %v", err)
	}
}

func TestScriptRunner_PayloadReachesStdin(t *testing.T) {
	dir := t.TempDir()
	// $1 is "--output", $2 the output directory.
	writeScript(t, dir, "stdin.sh", `cat > "$2/payload.bin"`+"\n")

	r := NewScriptRunner(ScriptConfig{
		ScriptDir: dir,
		Manifest:  shManifest(domain.OpImageVariation, "stdin.sh"),
		Logger:    testLogger(),
	})

	out := t.TempDir()
	payload := []byte("binary image bytes")
	err := r.Run(context.Background(), out, domain.GenerationRequest{
		Text: "variate", Requester: "bob", Kind: domain.OpImageVariation, Payload: payload,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(out, "payload.bin"))
	if err != nil {
		t.Fatalf("read captured payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload: got %q, want %q", got, payload)
	}
}

func TestScriptRunner_UnknownOperation(t *testing.T) {
	r := NewScriptRunner(ScriptConfig{
		ScriptDir: t.TempDir(),
		Manifest:  Manifest{Interpreter: "sh", Scripts: map[string]string{}},
		Logger:    testLogger(),
	})

	err := r.Run(context.Background(), t.TempDir(), domain.GenerationRequest{Kind: domain.OpImage})
	if err == nil {
		t.Fatal("expected error for missing script mapping")
	}
}
