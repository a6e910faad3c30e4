package signal

import (
	"strings"
)

// ItemType decides which values an item accepts.
type ItemType int8

const (
	SwitchItem ItemType = iota
	ContactItem
	NumberItem
	DimmerItem
	RollershutterItem
	StringItem
)

var ItemTypeToString = map[ItemType]string{
	SwitchItem:        "Switch",
	ContactItem:       "Contact",
	NumberItem:        "Number",
	DimmerItem:        "Dimmer",
	RollershutterItem: "Rollershutter",
	StringItem:        "String",
}

func (t ItemType) String() string {
	return ItemTypeToString[t]
}

// ParseItemType is case-insensitive.
func ParseItemType(s string) (ItemType, bool) {
	for t, name := range ItemTypeToString {
		if strings.EqualFold(name, s) {
			return t, true
		}
	}
	return 0, false
}

// Order matters: transformed text is parsed with the first kind that accepts it.
var acceptedStates = map[ItemType][]Kind{
	SwitchItem:        {KindOnOff, KindUnDef},
	ContactItem:       {KindOpenClosed, KindUnDef},
	NumberItem:        {KindDecimal, KindUnDef},
	DimmerItem:        {KindDecimal, KindOnOff, KindUnDef},
	RollershutterItem: {KindDecimal, KindUpDown, KindUnDef},
	StringItem:        {KindUnDef, KindString},
}

var acceptedCommands = map[ItemType][]Kind{
	SwitchItem:        {KindOnOff},
	ContactItem:       {},
	NumberItem:        {KindDecimal},
	DimmerItem:        {KindDecimal, KindOnOff, KindIncreaseDecrease},
	RollershutterItem: {KindUpDown, KindStopMove, KindDecimal},
	StringItem:        {KindString},
}

func (t ItemType) AcceptedStates() []Kind {
	return append([]Kind(nil), acceptedStates[t]...)
}

func (t ItemType) AcceptedCommands() []Kind {
	return append([]Kind(nil), acceptedCommands[t]...)
}
