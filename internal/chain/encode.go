package chain

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
)

// encodeCurrentNonceCall and encodePostCall produce calldata for the
// rollup contract's entry points. The exact ABI layout is the rollup's
// responsibility (spec.md §6); this is a stable, deterministic encoding
// sufficient to exercise the RPC round trip end to end.

func encodeCurrentNonceCall(blockType model.BlockType) string {
	return "0x" + fourByteSelector("currentNonce(uint8)") + leftPad32(strconv.Itoa(int(blockType)))
}

func encodePostCall(entryPoint string, task *model.BlockPostTask) string {
	var b strings.Builder
	b.WriteString("0x")
	b.WriteString(fourByteSelector(entryPoint + "(bytes32,bytes32,bytes,bytes4,bytes)"))
	b.WriteString(leftPad32Hex(task.TxTreeRoot.Hex()))
	b.WriteString(leftPad32Hex(task.PubkeyHash.Hex()))
	b.WriteString(hex.EncodeToString(task.AggregatedSignature.Bytes()))
	b.WriteString(fmt.Sprintf("%08x", uint32(task.Attendance)))
	for _, pk := range task.SortedPubkeys {
		b.WriteString(hex.EncodeToString(pk.Bytes()))
	}
	return b.String()
}

func fourByteSelector(sig string) string {
	h := model.HashBytes([]byte(sig))
	return hex.EncodeToString(h.Bytes()[:4])
}

func leftPad32(s string) string {
	n, _ := strconv.Atoi(s)
	return fmt.Sprintf("%064x", n)
}

func leftPad32Hex(hexStr string) string {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	if len(hexStr) >= 64 {
		return hexStr[:64]
	}
	return strings.Repeat("0", 64-len(hexStr)) + hexStr
}

func decodeUint64(hexStr string) (uint64, error) {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	hexStr = strings.TrimLeft(hexStr, "0")
	if hexStr == "" {
		return 0, nil
	}
	return strconv.ParseUint(hexStr, 16, 64)
}
