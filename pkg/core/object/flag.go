package object

import "strings"

// SliceFlag is a repeatable string flag; comma separated values are split.
type SliceFlag []string

func (i *SliceFlag) String() string {
	return "[" + strings.Join(*i, ",") + "]"
}

func (i *SliceFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*i = append(*i, v)
		}
	}
	return nil
}

func (i *SliceFlag) Type() string {
	return "stringSlice"
}

func (i *SliceFlag) Items() []string {
	return *i
}

func (i *SliceFlag) Len() int {
	return len(*i)
}
