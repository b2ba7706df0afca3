package hidlayout

const (
	maxGlobalStackDepth = 4
	maxUsageRanges      = 16
)

// globalState holds the scalars overwritten by Global items and saved or
// restored as one frame by Push/Pop.
type globalState struct {
	usagePage   uint16
	logicalMin  int32
	logicalMax  int32
	reportSize  int
	reportCount int
	reportID    uint8
}

// usageRange is one entry of the local usage list. A page of zero is a
// deferred marker resolved to the global usage page when the next Input
// item is processed.
type usageRange struct {
	page uint16
	min  uint16
	max  uint16
}

func (r usageRange) covers(usage uint16) bool {
	return r.min <= usage && usage <= r.max
}

func (r usageRange) singleton() bool {
	return r.min == r.max
}

// localState is cleared after every Main item, per the HID item model.
type localState struct {
	ranges []usageRange

	pendingMin     uint16
	pendingMinPage uint16
	haveMin        bool
	pendingMax     uint16
	pendingMaxPage uint16
	haveMax        bool

	// failed marks the locals unusable for field extraction. The next
	// Input item still advances the bit cursor so that offsets of later
	// fields stay correct.
	failed bool
}

// layoutBuilder carries the wire bit cursor for one report ID. The cursor
// starts at 8 when the ID is non-zero, reserving the report-ID byte; field
// offsets are published relative to the data area (cursor minus the
// reservation).
type layoutBuilder struct {
	layout ReportLayout
	cursor int
}

func (b *layoutBuilder) idBits() int {
	if b.layout.ReportID != 0 {
		return 8
	}
	return 0
}

type extractor struct {
	global      globalState
	globalStack []globalState
	local       localState

	builders map[uint8]*layoutBuilder
	order    []uint8

	collectionDepth int
	insideMouse     bool
}

// Extract scans a report descriptor and returns one layout per report ID
// encountered, in first-appearance order. Malformed fields abort only the
// field in question; a descriptor truncated mid-item stops the scan and
// returns whatever was found so far. Extract never fails outright: an
// unusable descriptor simply yields an empty set.
func Extract(desc []byte) Layouts {
	e := &extractor{
		builders: make(map[uint8]*layoutBuilder),
	}
	forEachItem(desc, e.process)
	return e.finalize()
}

// forEachItem walks the short items of a descriptor, skipping long items.
// A descriptor truncated mid-item ends the walk.
func forEachItem(desc []byte, fn func(item)) {
	for offset := 0; offset < len(desc); {
		prefix := desc[offset]
		if prefix == longItemPrefix {
			if offset+1 >= len(desc) {
				return
			}
			offset += 2 + int(desc[offset+1])
			continue
		}
		size := int(prefix & 0x03)
		if size == 3 {
			size = 4
		}
		if offset+size >= len(desc) && size > 0 {
			return
		}
		var value uint32
		for i := 0; i < size; i++ {
			value |= uint32(desc[offset+1+i]) << (8 * i)
		}
		fn(item{
			typ:   itemType((prefix >> 2) & 0x03),
			tag:   (prefix >> 4) & 0x0F,
			size:  size,
			value: value,
		})
		offset += 1 + size
	}
}

// ExtractPrimary is the single-layout convenience variant: Extract followed
// by Layouts.Primary.
func ExtractPrimary(desc []byte) (ReportLayout, error) {
	return Extract(desc).Primary()
}

func (e *extractor) process(it item) {
	switch it.typ {
	case itemTypeGlobal:
		e.handleGlobal(it)
	case itemTypeLocal:
		e.handleLocal(it)
	case itemTypeMain:
		e.handleMain(it)
	}
}

func (e *extractor) handleGlobal(it item) {
	switch it.tag {
	case tagUsagePage:
		e.global.usagePage = uint16(it.value)
	case tagLogicalMinimum:
		e.global.logicalMin = it.signedValue()
	case tagLogicalMaximum:
		e.global.logicalMax = it.signedValue()
	case tagReportSize:
		e.global.reportSize = int(it.value)
	case tagReportCount:
		e.global.reportCount = int(it.value)
	case tagReportID:
		e.global.reportID = uint8(it.value)
		e.builder(e.global.reportID)
	case tagPush:
		if len(e.globalStack) < maxGlobalStackDepth {
			e.globalStack = append(e.globalStack, e.global)
		}
		// push beyond capacity is dropped; later fields may come out
		// wrong but the scan continues
	case tagPop:
		if n := len(e.globalStack); n > 0 {
			e.global = e.globalStack[n-1]
			e.globalStack = e.globalStack[:n-1]
		}
	}
}

func (e *extractor) handleLocal(it item) {
	// A 4-byte usage payload is an extended usage carrying its page in the
	// upper 16 bits. Shorter payloads leave the page at zero, deferred to
	// the global usage page at Input time.
	var page uint16
	if it.size == 4 {
		page = uint16(it.value >> 16)
	}
	usage := uint16(it.value)

	switch it.tag {
	case tagUsage:
		e.addUsage(page, usage)
	case tagUsageMinimum:
		e.local.pendingMin = usage
		e.local.pendingMinPage = page
		e.local.haveMin = true
	case tagUsageMaximum:
		e.local.pendingMax = usage
		e.local.pendingMaxPage = page
		e.local.haveMax = true
	}
	if e.local.haveMin && e.local.haveMax {
		e.closePendingPair()
	}
}

// addUsage appends a singleton usage. It merges into the previous range only
// when the page matches, the usage is exactly one past the previous maximum
// and the previous range is not itself a singleton; two unrelated USAGE
// items must never fuse silently.
func (e *extractor) addUsage(page, usage uint16) {
	if n := len(e.local.ranges); n > 0 {
		last := &e.local.ranges[n-1]
		if last.page == page && !last.singleton() && usage == last.max+1 {
			last.max = usage
			return
		}
	}
	if len(e.local.ranges) >= maxUsageRanges {
		e.local.failed = true
		return
	}
	e.local.ranges = append(e.local.ranges, usageRange{page: page, min: usage, max: usage})
}

// closePendingPair turns a Usage Minimum / Usage Maximum pair into a range.
// Both pairing orders are accepted. A page mismatch within the pair or a
// maximum below the minimum halts extraction for this field only.
func (e *extractor) closePendingPair() {
	min, max := e.local.pendingMin, e.local.pendingMax
	minPage, maxPage := e.local.pendingMinPage, e.local.pendingMaxPage
	e.local.haveMin = false
	e.local.haveMax = false

	page := minPage
	if page == 0 {
		page = maxPage
	}
	if minPage != 0 && maxPage != 0 && minPage != maxPage {
		e.local.failed = true
		return
	}
	if max < min {
		e.local.failed = true
		return
	}
	if len(e.local.ranges) >= maxUsageRanges {
		e.local.failed = true
		return
	}
	e.local.ranges = append(e.local.ranges, usageRange{page: page, min: min, max: max})
}

func (e *extractor) handleMain(it item) {
	switch it.tag {
	case tagCollection:
		if uint8(it.value) == collectionApplication {
			if r, ok := e.firstUsage(); ok {
				page := r.page
				if page == 0 {
					page = e.global.usagePage
				}
				if page == PageGenericDesktop && r.min == UsageMouse {
					e.insideMouse = true
				}
			}
		}
		e.collectionDepth++
	case tagEndCollection:
		e.collectionDepth--
		if e.collectionDepth <= 0 {
			e.collectionDepth = 0
			e.insideMouse = false
		}
	case tagInput:
		e.handleInput(it.value)
	case tagOutput, tagFeature:
		// not part of the input report stream
	}
	e.local = localState{}
}

func (e *extractor) firstUsage() (usageRange, bool) {
	if len(e.local.ranges) == 0 {
		return usageRange{}, false
	}
	return e.local.ranges[0], true
}

// builder returns the layout under construction for the given report ID,
// creating it on first use. Distinct report IDs keep independent bit
// cursors, so interleaved report-ID blocks resume where they left off.
func (e *extractor) builder(reportID uint8) *layoutBuilder {
	if b, ok := e.builders[reportID]; ok {
		return b
	}
	b := &layoutBuilder{layout: ReportLayout{ReportID: reportID}}
	if reportID != 0 {
		b.cursor = 8
	}
	e.builders[reportID] = b
	e.order = append(e.order, reportID)
	return b
}

// handleInput materializes fields. Every branch that bails out still
// advances the bit cursor: offsets of later fields depend on it.
func (e *extractor) handleInput(flags uint32) {
	bitSize := e.global.reportSize * e.global.reportCount
	if bitSize == 0 {
		// report_count=0 is a legal no-op marker
		return
	}
	b := e.builder(e.global.reportID)
	defer func() { b.cursor += bitSize }()

	if flags&inputFlagConstant != 0 {
		// constant fields are padding
		return
	}
	if e.local.failed || len(e.local.ranges) == 0 {
		return
	}
	if e.global.logicalMin > e.global.logicalMax {
		return
	}

	// Resolve deferred usage pages. A page still zero after resolution
	// makes the field unresolvable.
	ranges := make([]usageRange, len(e.local.ranges))
	copy(ranges, e.local.ranges)
	for i := range ranges {
		if ranges[i].page == 0 {
			ranges[i].page = e.global.usagePage
		}
		if ranges[i].page == 0 {
			return
		}
	}

	if !e.insideMouse && !anyRelevantPage(ranges) {
		return
	}

	base := b.cursor - b.idBits()
	if flags&inputFlagVariable != 0 {
		e.assignVariable(b, base, ranges)
	} else {
		e.assignArray(b, base, ranges)
	}
}

func anyRelevantPage(ranges []usageRange) bool {
	for _, r := range ranges {
		switch r.page {
		case PageGenericDesktop, PageButton, PageConsumer:
			return true
		}
	}
	return false
}

// assignVariable walks the declared usages in order, one report_size-wide
// slot per usage, bounded by report_count. The first occurrence of each
// axis wins; button fields keep the first offset and take the maximum slot
// count across repeated fields.
func (e *extractor) assignVariable(b *layoutBuilder, base int, ranges []usageRange) {
	l := &b.layout
	slot := 0
	buttonSlots := 0
	buttonFirst := -1

	for _, r := range ranges {
		for u := int(r.min); u <= int(r.max); u++ {
			if slot >= e.global.reportCount {
				break
			}
			bit := base + slot*e.global.reportSize
			switch {
			case r.page == PageButton && u >= 1:
				if buttonFirst < 0 {
					buttonFirst = bit
				}
				buttonSlots++
			case r.page == PageGenericDesktop && u == int(UsageX):
				if l.XSize == 0 {
					l.XBitOffset = bit
					l.XSize = e.global.reportSize
				}
			case r.page == PageGenericDesktop && u == int(UsageY):
				if l.YSize == 0 {
					l.YBitOffset = bit
					l.YSize = e.global.reportSize
				}
			case r.page == PageGenericDesktop && u == int(UsageWheel):
				if l.WheelSize == 0 {
					l.WheelBitOffset = bit
					l.WheelSize = e.global.reportSize
				}
			case r.page == PageConsumer && u == int(UsageACPan):
				if l.PanSize == 0 {
					l.PanBitOffset = bit
					l.PanSize = e.global.reportSize
				}
			}
			slot++
		}
	}

	if buttonSlots > 0 {
		if l.ButtonsCount == 0 {
			l.ButtonsBitOffset = buttonFirst
		}
		if buttonSlots > l.ButtonsCount {
			l.ButtonsCount = buttonSlots
		}
	}
}

// assignArray handles array-packed fields: every usage in the field shares
// the field's base offset, and relevance is decided by whether the declared
// range covers the usage value in question.
func (e *extractor) assignArray(b *layoutBuilder, base int, ranges []usageRange) {
	l := &b.layout
	size := e.global.reportSize
	for _, r := range ranges {
		switch r.page {
		case PageButton:
			if r.max >= 1 && l.ButtonsCount == 0 {
				first := int(r.min)
				if first < 1 {
					first = 1
				}
				l.ButtonsBitOffset = base
				l.ButtonsCount = int(r.max) - first + 1
			}
		case PageGenericDesktop:
			if r.covers(UsageX) && l.XSize == 0 {
				l.XBitOffset = base
				l.XSize = size
			}
			if r.covers(UsageY) && l.YSize == 0 {
				l.YBitOffset = base
				l.YSize = size
			}
			if r.covers(UsageWheel) && l.WheelSize == 0 {
				l.WheelBitOffset = base
				l.WheelSize = size
			}
		case PageConsumer:
			if r.covers(UsageACPan) && l.PanSize == 0 {
				l.PanBitOffset = base
				l.PanSize = size
			}
		}
	}
}

func (e *extractor) finalize() Layouts {
	if len(e.order) == 0 {
		return nil
	}
	layouts := make(Layouts, 0, len(e.order))
	for _, rid := range e.order {
		b := e.builders[rid]
		b.layout.ReportSizeBits = b.cursor
		layouts = append(layouts, b.layout)
	}
	return layouts
}
