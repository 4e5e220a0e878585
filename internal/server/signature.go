package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signer produces and checks Pusher channel authorization strings of the
// form "key:hex(hmac_sha256(secret, socket_id:channel[:channel_data]))".
type Signer struct {
	Key    string
	Secret string
}

func (s Signer) mac(socketID, channel, channelData string) []byte {
	msg := socketID + ":" + channel
	if channelData != "" {
		msg += ":" + channelData
	}
	h := hmac.New(sha256.New, []byte(s.Secret))
	h.Write([]byte(msg))
	return h.Sum(nil)
}

// Sign authorizes socketID to join channel.
func (s Signer) Sign(socketID, channel, channelData string) string {
	return s.Key + ":" + hex.EncodeToString(s.mac(socketID, channel, channelData))
}

// Verify checks an authorization string in constant time.
func (s Signer) Verify(auth, socketID, channel, channelData string) bool {
	key, sig, ok := strings.Cut(auth, ":")
	if !ok || key != s.Key {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(socketID, channel, channelData))
}
