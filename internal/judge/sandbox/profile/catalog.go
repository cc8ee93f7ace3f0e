package profile

import (
	"fmt"
	"strings"

	appErr "judgerunner/pkg/errors"
)

// Catalog is an immutable set of languages keyed by ID.
type Catalog struct {
	order []string
	langs map[string]LanguageSpec
}

// NewCatalog validates langs and indexes them.
func NewCatalog(langs []LanguageSpec) (*Catalog, error) {
	c := &Catalog{langs: make(map[string]LanguageSpec, len(langs))}
	for _, l := range langs {
		if err := validate(l); err != nil {
			return nil, err
		}
		if _, dup := c.langs[l.ID]; dup {
			return nil, fmt.Errorf("language %s defined twice", l.ID)
		}
		if l.Name == "" {
			l.Name = l.ID
		}
		c.langs[l.ID] = l
		c.order = append(c.order, l.ID)
	}
	return c, nil
}

func validate(l LanguageSpec) error {
	switch {
	case strings.TrimSpace(l.ID) == "":
		return fmt.Errorf("language id is required")
	case l.LatestVersion == "":
		return fmt.Errorf("language %s: latest version is required", l.ID)
	case l.SourceFile == "" || strings.Contains(l.SourceFile, "/"):
		return fmt.Errorf("language %s: source file must be a plain file name", l.ID)
	case strings.TrimSpace(l.RunCmdTpl) == "":
		return fmt.Errorf("language %s: run command is required", l.ID)
	}
	if _, err := l.RunCmd("/toolchain"); err != nil {
		return err
	}
	if _, err := l.CompileCmd("/toolchain"); err != nil {
		return err
	}
	return nil
}

// Get looks a language up by ID.
func (c *Catalog) Get(id string) (LanguageSpec, error) {
	l, ok := c.langs[id]
	if !ok {
		return LanguageSpec{}, appErr.New(appErr.LanguageNotSupported).
			WithMessagef("language %q is not supported", id).
			WithDetail("language", id)
	}
	return l, nil
}

// List returns languages in configuration order.
func (c *Catalog) List() []LanguageSpec {
	out := make([]LanguageSpec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.langs[id])
	}
	return out
}
