package prl

import (
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
)

// Protocol-layer timing constants.
const (
	// TCRCReceive bounds how long Layer waits for a GoodCRC after handing a
	// frame to the PHY before it counts the attempt as failed.
	TCRCReceive = 3 * time.Millisecond

	// ChunkSenderResponse bounds how long a chunk sender waits for the
	// receiver's next chunk request.
	ChunkSenderResponse = 27 * time.Millisecond

	// maxTxAttempts is 1 initial send plus 2 retries.
	maxTxAttempts = 3
)

// SenderResponseTimeout returns tSenderResponse for the given negotiated
// revision: 27ms under PD 2.0, 30ms under PD 3.x.
func SenderResponseTimeout(rev pdmsg.Revision) time.Duration {
	if rev <= pdmsg.Revision20 {
		return 27 * time.Millisecond
	}
	return 30 * time.Millisecond
}
