package console

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

func TestConsolePublish(t *testing.T) {
	c := NewConsole()
	addr, err := sensor.ParseAddress("28-0000075c5e3a")
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	set := sensor.ReadingSet{Seq: 7, Time: ts, Readings: []sensor.Reading{{Address: addr, Celsius: -10.125}}}
	out := captureStdout(func() { _ = c.Publish(context.Background(), set) })
	want := "2025-09-19T14:41:54Z seq=7 sensor=28-0000075c5e3a temperature=-10.1250\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}
