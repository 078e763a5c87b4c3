package policy

import (
	"fmt"
	"regexp/syntax"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// jsRegexSource rewrites an RE2 pattern as an equivalent JavaScript RegExp
// source for use without flags. Inline flags, \A, \z, \Q...\E, POSIX and
// Unicode classes have no JS spelling, so the pattern is rebuilt from its
// parse tree instead of being copied.
//
// PAC engines receive ASCII URLs, and without the "u" flag JS cannot express
// code points above U+FFFF in a class, so such class ranges are widened to
// the surrogate code units.
func jsRegexSource(pattern string) (string, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := writeJSRegex(&b, re); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeJSRegex(b *strings.Builder, re *syntax.Regexp) error {
	switch re.Op {
	case syntax.OpNoMatch:
		b.WriteString(`[^\s\S]`)
	case syntax.OpEmptyMatch:
		b.WriteString(`(?:)`)
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			writeJSLiteral(b, r, re.Flags&syntax.FoldCase != 0)
		}
	case syntax.OpCharClass:
		writeJSClass(b, re.Rune)
	case syntax.OpAnyCharNotNL:
		b.WriteString(`[^\n]`)
	case syntax.OpAnyChar:
		b.WriteString(`[\s\S]`)
	// URLs and hosts carry no line terminators, so line and text anchors agree.
	case syntax.OpBeginLine, syntax.OpBeginText:
		b.WriteString("^")
	case syntax.OpEndLine, syntax.OpEndText:
		b.WriteString("$")
	case syntax.OpWordBoundary:
		b.WriteString(`\b`)
	case syntax.OpNoWordBoundary:
		b.WriteString(`\B`)
	case syntax.OpCapture:
		b.WriteString("(")
		if err := writeJSRegex(b, re.Sub[0]); err != nil {
			return err
		}
		b.WriteString(")")
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		if err := writeJSOperand(b, re.Sub[0]); err != nil {
			return err
		}
		switch re.Op {
		case syntax.OpStar:
			b.WriteString("*")
		case syntax.OpPlus:
			b.WriteString("+")
		case syntax.OpQuest:
			b.WriteString("?")
		default:
			b.WriteString("{" + strconv.Itoa(re.Min))
			switch {
			case re.Max == -1:
				b.WriteString(",")
			case re.Max != re.Min:
				b.WriteString("," + strconv.Itoa(re.Max))
			}
			b.WriteString("}")
		}
		if re.Flags&syntax.NonGreedy != 0 {
			b.WriteString("?")
		}
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if err := writeJSRegex(b, sub); err != nil {
				return err
			}
		}
	case syntax.OpAlternate:
		b.WriteString("(?:")
		for i, sub := range re.Sub {
			if i > 0 {
				b.WriteString("|")
			}
			if err := writeJSRegex(b, sub); err != nil {
				return err
			}
		}
		b.WriteString(")")
	default:
		return fmt.Errorf("unsupported regexp operator %v", re.Op)
	}
	return nil
}

// writeJSOperand writes the operand of a repetition, grouping it unless it
// already renders as a single atom.
func writeJSOperand(b *strings.Builder, re *syntax.Regexp) error {
	atom := false
	switch re.Op {
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL, syntax.OpCapture, syntax.OpAlternate:
		atom = true
	case syntax.OpLiteral:
		atom = len(re.Rune) == 1 && re.Rune[0] <= 0xFFFF
	}
	if atom {
		return writeJSRegex(b, re)
	}
	b.WriteString("(?:")
	if err := writeJSRegex(b, re); err != nil {
		return err
	}
	b.WriteString(")")
	return nil
}

func writeJSLiteral(b *strings.Builder, r rune, foldCase bool) {
	if foldCase {
		orbit := []rune{r}
		for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
			orbit = append(orbit, f)
		}
		if len(orbit) > 1 {
			ranges := make([]rune, 0, 2*len(orbit))
			for _, f := range orbit {
				ranges = append(ranges, f, f)
			}
			writeJSClass(b, ranges)
			return
		}
	}
	if r > 0xFFFF {
		hi, lo := utf16.EncodeRune(r)
		fmt.Fprintf(b, `\u%04X\u%04X`, hi, lo)
		return
	}
	writeJSRune(b, r)
}

func writeJSClass(b *strings.Builder, ranges []rune) {
	if len(ranges) == 0 {
		b.WriteString(`[^\s\S]`)
		return
	}
	astral := false
	b.WriteString("[")
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		if lo > 0xFFFF {
			astral = true
			continue
		}
		if hi > 0xFFFF {
			hi = 0xFFFF
			astral = true
		}
		writeJSRune(b, lo)
		if hi > lo {
			b.WriteString("-")
			writeJSRune(b, hi)
		}
	}
	if astral {
		b.WriteString(`\uD800-\uDFFF`)
	}
	b.WriteString("]")
}

// writeJSRune writes a BMP rune so it is literal both inside and outside a
// character class.
func writeJSRune(b *strings.Builder, r rune) {
	switch {
	case r < 0x20 || r > 0x7E:
		fmt.Fprintf(b, `\u%04X`, r)
	case strings.ContainsRune(`\^$.|?*+()[]{}/-`, r):
		b.WriteByte('\\')
		b.WriteRune(r)
	default:
		b.WriteRune(r)
	}
}
