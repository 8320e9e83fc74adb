package conn

import "testing"

func TestStreamKeyFromFLVPath(t *testing.T) {
	cases := map[string]string{
		"/live/stream.flv": "/live/stream",
		"live/stream.flv":  "/live/stream",
		"/live/stream":     "/live/stream",
		"stream":           "/stream",
	}
	for path, want := range cases {
		if got := StreamKeyFromFLVPath(path); got != want {
			t.Errorf("StreamKeyFromFLVPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestStreamKeyMatchesFLVDerivation(t *testing.T) {
	req := Request{App: "live", StreamName: "stream"}
	if got := req.StreamKey(); got != StreamKeyFromFLVPath("/live/stream.flv") {
		t.Fatalf("RTMP and HTTP-FLV derivations disagree: %q vs %q",
			got, StreamKeyFromFLVPath("/live/stream.flv"))
	}
}

func TestConnTypeLabelCoversFLVPlay(t *testing.T) {
	c := &Conn{req: Request{ConnType: ConnFlvPlay}}
	if got := c.connTypeLabel(); got != "flv-play" {
		t.Fatalf("connTypeLabel() = %q, want %q", got, "flv-play")
	}
}
