package pack_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/josiahcarlson/yogatable/internal/pack"
)

func mustPack(t *testing.T, v pack.Value, opts pack.Options) []byte {
	t.Helper()
	b, err := pack.Pack(v, opts)
	require.NoError(t, err)
	return b
}

func TestIntOrdering(t *testing.T) {
	ints := []int64{-1 << 40, -1000, -1, 0, 1, 1000, 1 << 40}
	var prev []byte
	for i, v := range ints {
		b := mustPack(t, pack.Int(v), pack.Options{})
		if i > 0 {
			require.Truef(t, bytes.Compare(prev, b) < 0, "pack(%d) should sort before pack(%d)", ints[i-1], v)
		}
		prev = b
	}
}

func TestIntDescendingReversesOrder(t *testing.T) {
	a := mustPack(t, pack.Int(5), pack.Options{Descending: true})
	b := mustPack(t, pack.Int(10), pack.Options{Descending: true})
	require.True(t, bytes.Compare(a, b) > 0, "descending: pack(5) should sort after pack(10)")
}

func TestFloatOrdering(t *testing.T) {
	floats := []float64{-1e10, -1.5, -0.0001, 0, 0.0001, 1.5, 1e10}
	var prev []byte
	for i, v := range floats {
		b := mustPack(t, pack.Float(v), pack.Options{})
		if i > 0 {
			require.True(t, bytes.Compare(prev, b) < 0)
		}
		prev = b
	}
}

func TestDecimalOrdering(t *testing.T) {
	vals := []string{"-100.5", "-1.5", "-0.001", "0", "0.001", "1.5", "100.5"}
	var prev []byte
	for i, s := range vals {
		d, err := decimal.NewFromString(s)
		require.NoError(t, err)
		b := mustPack(t, pack.Dec(d), pack.Options{})
		if i > 0 {
			require.Truef(t, bytes.Compare(prev, b) < 0, "%s should sort before %s", vals[i-1], s)
		}
		prev = b
	}
}

func TestDecimalTrailingZerosEqual(t *testing.T) {
	a, _ := decimal.NewFromString("1.5")
	b, _ := decimal.NewFromString("1.50")
	pa := mustPack(t, pack.Dec(a), pack.Options{})
	pb := mustPack(t, pack.Dec(b), pack.Options{})
	require.Equal(t, pa, pb)
}

func TestDecimalDescendingWithinSign(t *testing.T) {
	lo, _ := decimal.NewFromString("1.2")
	hi, _ := decimal.NewFromString("99.9")
	plo := mustPack(t, pack.Dec(lo), pack.Options{Descending: true})
	phi := mustPack(t, pack.Dec(hi), pack.Options{Descending: true})
	require.True(t, bytes.Compare(phi, plo) < 0, "descending: larger value sorts first")

	nlo, _ := decimal.NewFromString("-99.9")
	nhi, _ := decimal.NewFromString("-1.2")
	pnlo := mustPack(t, pack.Dec(nlo), pack.Options{Descending: true})
	pnhi := mustPack(t, pack.Dec(nhi), pack.Options{Descending: true})
	require.True(t, bytes.Compare(pnhi, pnlo) < 0, "descending: -1.2 sorts before -99.9")
}

func TestTextOrdering(t *testing.T) {
	words := []string{"", "a", "aa", "ab", "b", "ba"}
	var prev []byte
	for i, w := range words {
		b := mustPack(t, pack.Text(w), pack.Options{})
		if i > 0 {
			require.Truef(t, bytes.Compare(prev, b) < 0, "%q should sort before %q", words[i-1], w)
		}
		prev = b
	}
}

func TestTextCaseInsensitive(t *testing.T) {
	a := mustPack(t, pack.Text("ABC"), pack.Options{CaseInsensitive: true})
	b := mustPack(t, pack.Text("abc"), pack.Options{CaseInsensitive: true})
	require.Equal(t, a, b)
}

func TestTextEmbeddedNUL(t *testing.T) {
	a := mustPack(t, pack.Text("a\x00b"), pack.Options{})
	b := mustPack(t, pack.Text("a\x00c"), pack.Options{})
	require.True(t, bytes.Compare(a, b) < 0)
}

func TestBytesOrdering(t *testing.T) {
	a := mustPack(t, pack.Bytes([]byte{0x01, 0x00, 0x02}), pack.Options{})
	b := mustPack(t, pack.Bytes([]byte{0x01, 0x00, 0x03}), pack.Options{})
	require.True(t, bytes.Compare(a, b) < 0)
}

func TestNullSortsBeforeAscAfterDesc(t *testing.T) {
	n := mustPack(t, pack.Null(), pack.Options{})
	i := mustPack(t, pack.Int(-1000000), pack.Options{})
	require.True(t, bytes.Compare(n, i) < 0)

	nd := mustPack(t, pack.Null(), pack.Options{Descending: true})
	id := mustPack(t, pack.Int(1000000), pack.Options{Descending: true})
	require.True(t, bytes.Compare(nd, id) > 0)
}

func TestDateTimeOrdering(t *testing.T) {
	t1 := pack.DateTime(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	t2 := pack.DateTime(time.Date(2021, 6, 15, 12, 30, 0, 0, time.UTC))
	b1 := mustPack(t, t1, pack.Options{})
	b2 := mustPack(t, t2, pack.Options{})
	require.True(t, bytes.Compare(b1, b2) < 0)
}

func TestDateTimeRejectsNonUTC(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	v := pack.DateTime(time.Date(2020, 1, 1, 0, 0, 0, 0, loc))
	_, err := pack.Pack(v, pack.Options{})
	require.ErrorIs(t, err, pack.ErrNaiveRequired)
}

func TestTimeOfDayOrdering(t *testing.T) {
	a := pack.TimeOfDay(1 * time.Hour)
	b := pack.TimeOfDay(2 * time.Hour)
	ba := mustPack(t, a, pack.Options{})
	bb := mustPack(t, b, pack.Options{})
	require.True(t, bytes.Compare(ba, bb) < 0)
}

func TestPackAllConcatenates(t *testing.T) {
	vals := []pack.Value{pack.Int(1), pack.Text("x"), pack.Null()}
	opts := []pack.Options{{}, {}, {}}
	whole, err := pack.PackAll(vals, opts)
	require.NoError(t, err)

	var parts []byte
	for i, v := range vals {
		b, err := pack.Pack(v, opts[i])
		require.NoError(t, err)
		parts = append(parts, b...)
	}
	require.Equal(t, parts, whole)
}

func TestDifferentKindsDistinguishedByTag(t *testing.T) {
	i := mustPack(t, pack.Int(3), pack.Options{})
	f := mustPack(t, pack.Float(3), pack.Options{})
	require.NotEqual(t, i[0], f[0])
}
