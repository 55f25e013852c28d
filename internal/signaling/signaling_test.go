package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelf(t *testing.T) {
	raw := `{"From":"","Iid":"1","Data":{"Type":"Self","Id":"abc","Sid":"s1","Token":"tok",` +
		`"ApiVersion":1.4,"Stun":["stun:stun.example.org"],` +
		`"Turn":{"username":"u","password":"p","ttl":3600,"urls":["turn:turn.example.org"]}}}`

	env, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, MsgTypeSelf, env.Type)
	assert.Equal(t, "1", env.Iid)

	self, err := env.Self()
	require.NoError(t, err)
	assert.Equal(t, "tok", self.Token)
	assert.Equal(t, "abc", self.Id)
	assert.InDelta(t, 1.4, self.ApiVersion, 1e-9)

	servers := self.ICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.example.org"}, servers[0].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
}

func TestParseOffer(t *testing.T) {
	raw := `{"From":"peer1","Data":{"Type":"Offer","To":"me","Offer":{"type":"offer","sdp":"v=0\r\n"}}}`

	env, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "peer1", env.From)

	offer, err := env.Offer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Offer.Type)
	assert.Equal(t, "v=0\r\n", offer.Offer.SDP)

	_, err = env.Answer()
	assert.Error(t, err)
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"no data", `{"From":"x"}`},
		{"null data", `{"Data":null}`},
		{"data not object", `{"Data":"Self"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte(`{"Data":null}`))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRequestWireShape(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	req := NewCandidate("peer1", webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2122260223 10.0.0.1 5000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "Candidate", generic["Type"])
	assert.NotContains(t, generic, "Offer")

	cand := generic["Candidate"].(map[string]any)
	assert.Equal(t, "peer1", cand["To"])
	inner := cand["Candidate"].(map[string]any)
	assert.Equal(t, "0", inner["sdpMid"])

	offer, err := json.Marshal(NewOffer("peer1", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Type":"Offer","Offer":{"Type":"Offer","To":"peer1","Offer":{"type":"offer","sdp":"v=0"}}}`, string(offer))
}

func TestRequestsCarryIids(t *testing.T) {
	a, b := NewAlive(1), NewAlive(2)
	assert.NotEmpty(t, a.Iid)
	assert.NotEqual(t, a.Iid, b.Iid)
	assert.Equal(t, int64(2), b.Alive.Alive)

	hello := NewHello("1.0", "lobby")
	assert.Equal(t, "lobby", hello.Hello.Id)

	bye := NewBye("peer1", "")
	assert.Nil(t, bye.Bye.Bye)
	assert.Equal(t, "busy", NewBye("peer1", "busy").Bye.Bye["Reason"])
}
