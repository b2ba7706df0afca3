package hidlayout

// HasKeyboardCollection reports whether the descriptor declares an
// application collection for a keyboard or keypad. It is a classification
// aid: pointer fields are what Extract looks for, but a combo device's
// keyboard half is recognized here.
func HasKeyboardCollection(desc []byte) bool {
	var (
		usagePage uint16
		lastUsage uint16
		lastPage  uint16
		haveUsage bool
		found     bool
	)
	forEachItem(desc, func(it item) {
		if found {
			return
		}
		switch {
		case it.typ == itemTypeGlobal && it.tag == tagUsagePage:
			usagePage = uint16(it.value)
		case it.typ == itemTypeLocal && it.tag == tagUsage:
			lastUsage = uint16(it.value)
			lastPage = usagePage
			if it.size == 4 {
				lastPage = uint16(it.value >> 16)
			}
			haveUsage = true
		case it.typ == itemTypeMain:
			if it.tag == tagCollection && uint8(it.value) == collectionApplication &&
				haveUsage && lastPage == PageGenericDesktop &&
				(lastUsage == UsageKeyboard || lastUsage == UsageKeypad) {
				found = true
			}
			haveUsage = false
		}
	})
	return found
}
