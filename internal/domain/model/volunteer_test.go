package model

import (
	"testing"
	"time"
)

func birthdayOf(year int, month time.Month, day int) *time.Time {
	b := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &b
}

func TestVolunteerAge(t *testing.T) {
	at := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		birthday *time.Time
		want     int
	}{
		{"дата рождения неизвестна", nil, -1},
		{"день рождения уже прошёл", birthdayOf(2000, 1, 10), 26},
		{"день рождения ещё впереди", birthdayOf(2000, 12, 10), 25},
		{"день рождения сегодня", birthdayOf(2008, 6, 15), 18},
		{"день рождения завтра", birthdayOf(2008, 6, 16), 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Volunteer{Birthday: tt.birthday}
			if got := v.Age(at); got != tt.want {
				t.Errorf("Age() = %d, ожидается %d", got, tt.want)
			}
		})
	}
}

func TestVolunteerIsMinor(t *testing.T) {
	at := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	// Ровно 18 лет — совершеннолетний
	v := &Volunteer{Birthday: birthdayOf(2008, 6, 15)}
	if v.IsMinor(at) {
		t.Error("IsMinor() = true в день 18-летия, ожидается false")
	}

	// 17 лет — несовершеннолетний
	v = &Volunteer{Birthday: birthdayOf(2008, 6, 16)}
	if !v.IsMinor(at) {
		t.Error("IsMinor() = false за день до 18-летия, ожидается true")
	}

	// Неизвестная дата рождения не делает волонтёра несовершеннолетним
	v = &Volunteer{}
	if v.IsMinor(at) {
		t.Error("IsMinor() = true при неизвестной дате рождения, ожидается false")
	}
}

func TestVolunteerHasPhone(t *testing.T) {
	v := &Volunteer{
		Phones: []*Phone{
			{Number: "+33612345678"},
		},
	}

	if !v.HasPhone("+33612345678") {
		t.Error("HasPhone() = false для привязанного номера")
	}
	if v.HasPhone("+33687654321") {
		t.Error("HasPhone() = true для чужого номера")
	}
}

func TestVolunteerAppendReport(t *testing.T) {
	v := &Volunteer{Report: []string{}}
	v.AppendReport(OutcomeUpdated + ": полное обновление применено")
	v.AppendReport(OutcomeSkipped + ": метки времени совпали")

	if len(v.Report) != 2 {
		t.Fatalf("len(Report) = %d, ожидается 2", len(v.Report))
	}
	if v.Report[0] != "updated: полное обновление применено" {
		t.Errorf("Report[0] = %q", v.Report[0])
	}
}
