// Package permission описывает закрытый набор прав администратора.
//
// Маршруты принимают permission.Tag, а не строку, поэтому опечатка в имени права
// ловится компилятором.
package permission

import (
	"sort"
	"strings"
)

type Tag string

const (
	Members          Tag = "members"
	Events           Tag = "events"
	Attendance       Tag = "attendance"
	ManageAttendance Tag = "manage_attendance"
	Celebrations     Tag = "celebrations"
	Reports          Tag = "reports"
	Uploads          Tag = "uploads"
	ManageAdmins     Tag = "manage_admins"
)

var descriptions = map[Tag]string{
	Members:          "View and edit member records",
	Events:           "Schedule and edit events",
	Attendance:       "View attendance records",
	ManageAttendance: "Record and correct attendance",
	Celebrations:     "Review birthday and anniversary requests",
	Reports:          "Export reports",
	Uploads:          "Upload images",
	ManageAdmins:     "View admin accounts",
}

// All возвращает все известные права в стабильном порядке.
func All() []Tag {
	out := make([]Tag, 0, len(descriptions))
	for t := range descriptions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t Tag) Valid() bool {
	_, ok := descriptions[t]
	return ok
}

func (t Tag) Description() string { return descriptions[t] }

// Parse нормализует строку из БД/запроса и проверяет, что такое право существует.
func Parse(s string) (Tag, bool) {
	t := Tag(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", false
	}
	return t, true
}

// ParseAll оставляет только известные права, без повторов. Неизвестные значения
// возвращаются вторым списком, чтобы вызывающий мог их залогировать.
func ParseAll(values []string) (known []Tag, unknown []string) {
	seen := make(map[Tag]struct{}, len(values))
	for _, v := range values {
		t, ok := Parse(v)
		if !ok {
			unknown = append(unknown, v)
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		known = append(known, t)
	}
	sort.Slice(known, func(i, j int) bool { return known[i] < known[j] })
	return known, unknown
}

// Entry: строка справочника прав для клиентских форм.
type Entry struct {
	Tag         Tag    `json:"tag"`
	Description string `json:"description"`
}

func Catalog() []Entry {
	all := All()
	out := make([]Entry, 0, len(all))
	for _, t := range all {
		out = append(out, Entry{Tag: t, Description: t.Description()})
	}
	return out
}
