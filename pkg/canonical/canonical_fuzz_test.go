package canonical

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/stretchr/testify/require"
)

func FuzzMarshalStringData(f *testing.F) {
	f.Add("")
	f.Add("0x539")
	f.Add("<script>&amp;</script>")
	f.Add("こんにちは") // unicode
	f.Add("line\nbreak\t\"quoted\"")

	f.Fuzz(func(t *testing.T, s string) {
		if !utf8.ValidString(s) {
			t.Skip()
		}

		resp := types.NewSuccessResponse("r", s)
		first, err := Marshal(resp)
		require.NoError(t, err)
		second, err := Marshal(resp)
		require.NoError(t, err)
		require.Equal(t, first, second)

		var decoded struct {
			Data string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(first, &decoded))
		require.Equal(t, s, decoded.Data)

		if strings.ContainsAny(s, "<>&") && !strings.Contains(s, `\`) {
			require.NotContains(t, string(first), `\u003c`)
			require.NotContains(t, string(first), `\u0026`)
		}
	})
}
