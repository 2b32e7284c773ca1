package keyboard

// Key is a Linux input event key code (linux/input-event-codes.h). The
// classifier only cares about the subset a barcode scanner in keyboard-wedge
// mode can emit.
type Key uint16

const (
	KeyEsc        Key = 1
	Key1          Key = 2
	Key2          Key = 3
	Key3          Key = 4
	Key4          Key = 5
	Key5          Key = 6
	Key6          Key = 7
	Key7          Key = 8
	Key8          Key = 9
	Key9          Key = 10
	Key0          Key = 11
	KeyMinus      Key = 12
	KeyEqual      Key = 13
	KeyBackspace  Key = 14
	KeyTab        Key = 15
	KeyQ          Key = 16
	KeyW          Key = 17
	KeyE          Key = 18
	KeyR          Key = 19
	KeyT          Key = 20
	KeyY          Key = 21
	KeyU          Key = 22
	KeyI          Key = 23
	KeyO          Key = 24
	KeyP          Key = 25
	KeyLeftBrace  Key = 26
	KeyRightBrace Key = 27
	KeyEnter      Key = 28
	KeyLeftCtrl   Key = 29
	KeyA          Key = 30
	KeyS          Key = 31
	KeyD          Key = 32
	KeyF          Key = 33
	KeyG          Key = 34
	KeyH          Key = 35
	KeyJ          Key = 36
	KeyK          Key = 37
	KeyL          Key = 38
	KeySemicolon  Key = 39
	KeyApostrophe Key = 40
	KeyGrave      Key = 41
	KeyLeftShift  Key = 42
	KeyBackslash  Key = 43
	KeyZ          Key = 44
	KeyX          Key = 45
	KeyC          Key = 46
	KeyV          Key = 47
	KeyB          Key = 48
	KeyN          Key = 49
	KeyM          Key = 50
	KeyComma      Key = 51
	KeyDot        Key = 52
	KeySlash      Key = 53
	KeyRightShift Key = 54
	KeyKPAsterisk Key = 55
	KeySpace      Key = 57
	KeyKP7        Key = 71
	KeyKP8        Key = 72
	KeyKP9        Key = 73
	KeyKPMinus    Key = 74
	KeyKP4        Key = 75
	KeyKP5        Key = 76
	KeyKP6        Key = 77
	KeyKPPlus     Key = 78
	KeyKP1        Key = 79
	KeyKP2        Key = 80
	KeyKP3        Key = 81
	KeyKP0        Key = 82
	KeyKPDot      Key = 83
	KeyKPEnter    Key = 96
	KeyKPSlash    Key = 98
)

// terminator is the character the commit key maps to.
const terminator = '\n'

// charTable is fixed: letters are folded to lowercase because the shift
// state is not tracked, and both Enter keys commit.
var charTable = map[Key]rune{
	Key1: '1', Key2: '2', Key3: '3', Key4: '4', Key5: '5',
	Key6: '6', Key7: '7', Key8: '8', Key9: '9', Key0: '0',
	KeyKP1: '1', KeyKP2: '2', KeyKP3: '3', KeyKP4: '4', KeyKP5: '5',
	KeyKP6: '6', KeyKP7: '7', KeyKP8: '8', KeyKP9: '9', KeyKP0: '0',

	KeyA: 'a', KeyB: 'b', KeyC: 'c', KeyD: 'd', KeyE: 'e', KeyF: 'f',
	KeyG: 'g', KeyH: 'h', KeyI: 'i', KeyJ: 'j', KeyK: 'k', KeyL: 'l',
	KeyM: 'm', KeyN: 'n', KeyO: 'o', KeyP: 'p', KeyQ: 'q', KeyR: 'r',
	KeyS: 's', KeyT: 't', KeyU: 'u', KeyV: 'v', KeyW: 'w', KeyX: 'x',
	KeyY: 'y', KeyZ: 'z',

	KeyMinus: '-', KeyKPMinus: '-', KeyEqual: '=', KeyKPPlus: '+',
	KeyDot: '.', KeyKPDot: '.', KeySlash: '/', KeyKPSlash: '/',
	KeyComma: ',', KeySemicolon: ';', KeyApostrophe: '\'',
	KeyLeftBrace: '[', KeyRightBrace: ']', KeyBackslash: '\\',
	KeyKPAsterisk: '*',

	KeyEnter: terminator, KeyKPEnter: terminator,
}

// Char returns the character a key maps to.
func Char(k Key) (rune, bool) {
	r, ok := charTable[k]
	return r, ok
}

// reverseTable prefers the main block over the keypad so KeysFor produces
// what a scanner in its default layout sends.
var reverseTable = func() map[rune]Key {
	m := make(map[rune]Key, len(charTable))
	for k, r := range charTable {
		if prev, ok := m[r]; ok && prev < k {
			continue
		}
		m[r] = k
	}
	return m
}()

// KeysFor returns the key sequence that types s, or false if s contains a
// character outside the table. Upper-case letters map to their lowercase key.
func KeysFor(s string) ([]Key, bool) {
	keys := make([]Key, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		k, ok := reverseTable[r]
		if !ok {
			return nil, false
		}
		keys = append(keys, k)
	}
	return keys, true
}
