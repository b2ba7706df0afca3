package hidlayout

// Short item prefix byte layout: bits 0-1 payload size, bits 2-3 item type,
// bits 4-7 item tag. A prefix of 0xFE introduces a long item, which carries
// its own length byte and is skipped entirely.
const longItemPrefix = 0xFE

type itemType uint8

const (
	itemTypeMain itemType = iota
	itemTypeGlobal
	itemTypeLocal
	itemTypeReserved
)

// Main item tags.
const (
	tagInput         = 0x8
	tagOutput        = 0x9
	tagCollection    = 0xA
	tagFeature       = 0xB
	tagEndCollection = 0xC
)

// Global item tags.
const (
	tagUsagePage      = 0x0
	tagLogicalMinimum = 0x1
	tagLogicalMaximum = 0x2
	tagReportSize     = 0x7
	tagReportID       = 0x8
	tagReportCount    = 0x9
	tagPush           = 0xA
	tagPop            = 0xB
)

// Local item tags.
const (
	tagUsage        = 0x0
	tagUsageMinimum = 0x1
	tagUsageMaximum = 0x2
)

// Input flags (payload of the Input main item).
const (
	inputFlagConstant = 1 << 0 // 0 = Data, 1 = Constant
	inputFlagVariable = 1 << 1 // 0 = Array, 1 = Variable
)

// Collection subtypes.
const collectionApplication = 0x01

// Usage pages relevant to pointer reports.
const (
	PageGenericDesktop uint16 = 0x01
	PageKeyboard       uint16 = 0x07
	PageButton         uint16 = 0x09
	PageConsumer       uint16 = 0x0C
)

// Generic Desktop usages.
const (
	UsageMouse    uint16 = 0x02
	UsageKeyboard uint16 = 0x06
	UsageKeypad   uint16 = 0x07
	UsageX        uint16 = 0x30
	UsageY        uint16 = 0x31
	UsageWheel    uint16 = 0x38
)

// Consumer page usages.
const UsageACPan uint16 = 0x0238

// item is one decoded short item of the descriptor stream.
type item struct {
	typ   itemType
	tag   uint8
	size  int // payload size in bytes (0, 1, 2 or 4)
	value uint32
}

// signedValue interprets the payload as a signed integer of its declared
// size, per the descriptor item encoding.
func (it item) signedValue() int32 {
	switch it.size {
	case 1:
		return int32(int8(it.value))
	case 2:
		return int32(int16(it.value))
	default:
		return int32(it.value)
	}
}
