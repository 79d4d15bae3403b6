package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		line   string
		want   Reply
		wantOK bool
	}{
		{"E=1000.5", Reply{Key: "E", Value: "1000.5"}, true},
		{"I=640,480,mono8,1\r", Reply{Key: "I", Value: "640,480,mono8,1"}, true},
		{"F!", Reply{Key: "F", Failed: true}, true},
		{"B=", Reply{Key: "B", Value: ""}, true},
		{"F=2,1,2,AAA=", Reply{Key: "F", Value: "2,1,2,AAA="}, true},
		{"E=1000 #7", Reply{Key: "E", Value: "1000", Tag: "7"}, true},
		{"F! #12", Reply{Key: "F", Failed: true, Tag: "12"}, true},
		{"# debug", Reply{}, false},
		{"", Reply{}, false},
		{"camera v1.2 ready", Reply{}, false},
		{"e=1", Reply{}, false},
		{"TOOLONG=1", Reply{}, false},
		{"!", Reply{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseReply(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScriptedPort(t *testing.T) {
	port := NewScriptedPort(func(cmd string) []string {
		if cmd == "E?" {
			return []string{"E=42"}
		}
		return nil
	})

	_, err := port.Write([]byte("E?\nG=1\n"))
	assert.NoError(t, err)
	assert.Equal(t, []string{"E?", "G=1"}, port.Written())

	buf := make([]byte, 16)
	n, err := port.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "E=42\n", string(buf[:n]))

	port.Disconnect()
	_, err = port.Read(buf)
	assert.ErrorIs(t, err, ErrPortDisconnected)

	_, err = port.Write([]byte("F\n"))
	assert.Error(t, err)
	assert.NoError(t, port.Close())
}
