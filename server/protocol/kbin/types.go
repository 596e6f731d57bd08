package kbin

import "strings"

// Type is the on-wire node type code.
type Type byte

const (
	TypeVoid   Type = 1
	TypeS8     Type = 2
	TypeU8     Type = 3
	TypeS16    Type = 4
	TypeU16    Type = 5
	TypeS32    Type = 6
	TypeU32    Type = 7
	TypeS64    Type = 8
	TypeU64    Type = 9
	TypeBinary Type = 10
	TypeString Type = 11
	TypeIP4    Type = 12
	TypeTime   Type = 13
	TypeFloat  Type = 14
	TypeDouble Type = 15
	Type2S8    Type = 16
	Type2U8    Type = 17
	Type2S16   Type = 18
	Type2U16   Type = 19
	Type2S32   Type = 20
	Type2U32   Type = 21
	Type2S64   Type = 22
	Type2U64   Type = 23
	Type2F     Type = 24
	Type2D     Type = 25
	Type3S8    Type = 26
	Type3U8    Type = 27
	Type3S16   Type = 28
	Type3U16   Type = 29
	Type3S32   Type = 30
	Type3U32   Type = 31
	Type3S64   Type = 32
	Type3U64   Type = 33
	Type3F     Type = 34
	Type3D     Type = 35
	Type4S8    Type = 36
	Type4U8    Type = 37
	Type4S16   Type = 38
	Type4U16   Type = 39
	Type4S32   Type = 40
	Type4U32   Type = 41
	Type4S64   Type = 42
	Type4U64   Type = 43
	Type4F     Type = 44
	Type4D     Type = 45
	TypeVS8    Type = 48
	TypeVU8    Type = 49
	TypeVS16   Type = 50
	TypeVU16   Type = 51
	TypeBool   Type = 52
	Type2B     Type = 53
	Type3B     Type = 54
	Type4B     Type = 55
	TypeVB     Type = 56
)

// control codes in the node section
const (
	codeAttr    byte = 0x2e
	codeEndNode byte = 0xbe
	codeEndDoc  byte = 0xbf
	arrayFlag   byte = 0x40
)

// elem is the scalar component a type is built from.
type elem int

const (
	elemNone elem = iota
	elemS8
	elemU8
	elemS16
	elemU16
	elemS32
	elemU32
	elemS64
	elemU64
	elemF32
	elemF64
	elemBool
	elemIP4
)

func (e elem) size() int {
	switch e {
	case elemS8, elemU8, elemBool:
		return 1
	case elemS16, elemU16:
		return 2
	case elemS32, elemU32, elemF32, elemIP4:
		return 4
	case elemS64, elemU64, elemF64:
		return 8
	}
	return 0
}

type typeDesc struct {
	names []string
	elem  elem
	count int
}

// width is the encoded size of one value of the type.
func (d typeDesc) width() int {
	return d.elem.size() * d.count
}

var types = map[Type]typeDesc{
	TypeVoid:   {names: []string{"void"}},
	TypeS8:     {names: []string{"s8"}, elem: elemS8, count: 1},
	TypeU8:     {names: []string{"u8"}, elem: elemU8, count: 1},
	TypeS16:    {names: []string{"s16"}, elem: elemS16, count: 1},
	TypeU16:    {names: []string{"u16"}, elem: elemU16, count: 1},
	TypeS32:    {names: []string{"s32"}, elem: elemS32, count: 1},
	TypeU32:    {names: []string{"u32"}, elem: elemU32, count: 1},
	TypeS64:    {names: []string{"s64"}, elem: elemS64, count: 1},
	TypeU64:    {names: []string{"u64"}, elem: elemU64, count: 1},
	TypeBinary: {names: []string{"bin", "binary"}},
	TypeString: {names: []string{"str", "string"}},
	TypeIP4:    {names: []string{"ip4"}, elem: elemIP4, count: 1},
	TypeTime:   {names: []string{"time"}, elem: elemU32, count: 1},
	TypeFloat:  {names: []string{"float", "f"}, elem: elemF32, count: 1},
	TypeDouble: {names: []string{"double", "d"}, elem: elemF64, count: 1},
	Type2S8:    {names: []string{"2s8"}, elem: elemS8, count: 2},
	Type2U8:    {names: []string{"2u8"}, elem: elemU8, count: 2},
	Type2S16:   {names: []string{"2s16"}, elem: elemS16, count: 2},
	Type2U16:   {names: []string{"2u16"}, elem: elemU16, count: 2},
	Type2S32:   {names: []string{"2s32"}, elem: elemS32, count: 2},
	Type2U32:   {names: []string{"2u32"}, elem: elemU32, count: 2},
	Type2S64:   {names: []string{"2s64", "vs64"}, elem: elemS64, count: 2},
	Type2U64:   {names: []string{"2u64", "vu64"}, elem: elemU64, count: 2},
	Type2F:     {names: []string{"2f"}, elem: elemF32, count: 2},
	Type2D:     {names: []string{"2d", "vd"}, elem: elemF64, count: 2},
	Type3S8:    {names: []string{"3s8"}, elem: elemS8, count: 3},
	Type3U8:    {names: []string{"3u8"}, elem: elemU8, count: 3},
	Type3S16:   {names: []string{"3s16"}, elem: elemS16, count: 3},
	Type3U16:   {names: []string{"3u16"}, elem: elemU16, count: 3},
	Type3S32:   {names: []string{"3s32"}, elem: elemS32, count: 3},
	Type3U32:   {names: []string{"3u32"}, elem: elemU32, count: 3},
	Type3S64:   {names: []string{"3s64"}, elem: elemS64, count: 3},
	Type3U64:   {names: []string{"3u64"}, elem: elemU64, count: 3},
	Type3F:     {names: []string{"3f"}, elem: elemF32, count: 3},
	Type3D:     {names: []string{"3d"}, elem: elemF64, count: 3},
	Type4S8:    {names: []string{"4s8"}, elem: elemS8, count: 4},
	Type4U8:    {names: []string{"4u8"}, elem: elemU8, count: 4},
	Type4S16:   {names: []string{"4s16"}, elem: elemS16, count: 4},
	Type4U16:   {names: []string{"4u16"}, elem: elemU16, count: 4},
	Type4S32:   {names: []string{"4s32", "vs32"}, elem: elemS32, count: 4},
	Type4U32:   {names: []string{"4u32", "vu32"}, elem: elemU32, count: 4},
	Type4S64:   {names: []string{"4s64"}, elem: elemS64, count: 4},
	Type4U64:   {names: []string{"4u64"}, elem: elemU64, count: 4},
	Type4F:     {names: []string{"4f", "vf"}, elem: elemF32, count: 4},
	Type4D:     {names: []string{"4d"}, elem: elemF64, count: 4},
	TypeVS8:    {names: []string{"vs8"}, elem: elemS8, count: 16},
	TypeVU8:    {names: []string{"vu8"}, elem: elemU8, count: 16},
	TypeVS16:   {names: []string{"vs16"}, elem: elemS16, count: 8},
	TypeVU16:   {names: []string{"vu16"}, elem: elemU16, count: 8},
	TypeBool:   {names: []string{"bool", "b"}, elem: elemBool, count: 1},
	Type2B:     {names: []string{"2b"}, elem: elemBool, count: 2},
	Type3B:     {names: []string{"3b"}, elem: elemBool, count: 3},
	Type4B:     {names: []string{"4b"}, elem: elemBool, count: 4},
	TypeVB:     {names: []string{"vb"}, elem: elemBool, count: 16},
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, len(types)*2)
	for t, d := range types {
		for _, name := range d.names {
			m[name] = t
		}
	}
	return m
}()

// String returns the canonical text name of the type.
func (t Type) String() string {
	if d, ok := types[t]; ok {
		return d.names[0]
	}
	return "unknown"
}

// Valid reports whether t is a known node type.
func (t Type) Valid() bool {
	_, ok := types[t]
	return ok
}

// Count is the number of components in one value of the type.
func (t Type) Count() int {
	return types[t].count
}

// ParseType resolves a text type name such as "u16" or "3s32".
func ParseType(name string) (Type, bool) {
	t, ok := typesByName[strings.ToLower(name)]
	return t, ok
}
