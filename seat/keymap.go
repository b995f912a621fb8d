package seat

import (
	"fmt"
	"os"
	"strings"

	"deedles.dev/wlcomp/shm"
)

// KeymapFormat is the wl_keyboard.keymap_format for xkb text keymaps.
const KeymapFormat = 1

// RMLVO names an xkb keymap by rules, model, layout, variant and
// options. Layouts and variants are comma-separated lists.
type RMLVO struct {
	Rules   string `mapstructure:"rules"`
	Model   string `mapstructure:"model"`
	Layout  string `mapstructure:"layout"`
	Variant string `mapstructure:"variant"`
	Options string `mapstructure:"options"`
}

// DefaultRMLVO is used for empty fields.
var DefaultRMLVO = RMLVO{
	Rules:  "evdev",
	Model:  "pc105",
	Layout: "us",
}

// Keymap is a compiled keymap, ready to be sent to clients. The file is
// sealed, so every client can safely be handed the same one.
type Keymap struct {
	Names RMLVO
	Text  string
	File  *os.File
	// Size includes the terminating NUL.
	Size uint32
}

// CompileKeymap builds a keymap from names. Components are referenced
// by include statements that the client's xkb library resolves
// against its own data.
func CompileKeymap(names RMLVO) (*Keymap, error) {
	names = names.withDefaults()
	layouts := strings.Split(names.Layout, ",")
	variants := strings.Split(names.Variant, ",")
	if (names.Variant != "") && (len(variants) > len(layouts)) {
		return nil, fmt.Errorf("%v variants for %v layouts", len(variants), len(layouts))
	}

	symbols := []string{"pc"}
	for i, layout := range layouts {
		layout = strings.TrimSpace(layout)
		if layout == "" {
			return nil, fmt.Errorf("empty layout in %q", names.Layout)
		}
		if (i < len(variants)) && (strings.TrimSpace(variants[i]) != "") {
			layout = fmt.Sprintf("%v(%v)", layout, strings.TrimSpace(variants[i]))
		}
		if i > 0 {
			layout = fmt.Sprintf("%v:%v", layout, i+1)
		}
		symbols = append(symbols, layout)
	}
	symbols = append(symbols, "inet(evdev)")
	for _, opt := range strings.Split(names.Options, ",") {
		group, name, ok := strings.Cut(strings.TrimSpace(opt), ":")
		if !ok {
			continue
		}
		symbols = append(symbols, fmt.Sprintf("%v(%v)", group, name))
	}

	var text strings.Builder
	text.WriteString("xkb_keymap {\n")
	fmt.Fprintf(&text, "\txkb_keycodes { include \"%v+aliases(qwerty)\" };\n", names.Rules)
	text.WriteString("\txkb_types { include \"complete\" };\n")
	text.WriteString("\txkb_compat { include \"complete\" };\n")
	fmt.Fprintf(&text, "\txkb_symbols { include \"%v\" };\n", strings.Join(symbols, "+"))
	fmt.Fprintf(&text, "\txkb_geometry { include \"pc(%v)\" };\n", names.Model)
	text.WriteString("};\n")

	data := append([]byte(text.String()), 0)
	file, err := shm.CreateSealed("wlcomp-keymap", data)
	if err != nil {
		return nil, fmt.Errorf("keymap file: %w", err)
	}

	return &Keymap{
		Names: names,
		Text:  text.String(),
		File:  file,
		Size:  uint32(len(data)),
	}, nil
}

func (names RMLVO) withDefaults() RMLVO {
	if names.Rules == "" {
		names.Rules = DefaultRMLVO.Rules
	}
	if names.Model == "" {
		names.Model = DefaultRMLVO.Model
	}
	if names.Layout == "" {
		names.Layout = DefaultRMLVO.Layout
	}
	return names
}

// Close releases the keymap file.
func (km *Keymap) Close() error {
	return km.File.Close()
}
