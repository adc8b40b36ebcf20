// Package messages holds the re-engagement message catalog and variant selection.
package messages

import "github.com/foxzi/reengage/internal/models"

// MaxLevel is the last campaign level
const MaxLevel = 4

// catalog is defined at build time and never mutated
var catalog = []models.MessageVariant{
	// Level 1: emotional, a gentle reminder
	{
		ID:          "l1-emotional-dog-misses",
		Type:        models.TypeEmotional,
		Level:       1,
		Title:       "{dogName} скучает по занятиям",
		Body:        "{username}, {dogName} ждёт новых тренировок. Пара минут сегодня, и вы снова в ритме!",
		URLTemplate: "/training",
		Conditions:  &models.Conditions{RequiresDogName: true},
	},
	{
		ID:          "l1-emotional-progress",
		Type:        models.TypeEmotional,
		Level:       1,
		Title:       "Вы уже прошли {totalSteps} шагов",
		Body:        "{username}, жаль терять такой прогресс. Вернитесь к тренировкам, пока навыки свежи.",
		URLTemplate: "/training",
		Conditions:  &models.Conditions{MinSteps: 10},
	},
	{
		ID:          "l1-emotional-simple",
		Type:        models.TypeEmotional,
		Level:       1,
		Title:       "Мы соскучились, {username}!",
		Body:        "Давно вас не видели. Короткая тренировка сегодня порадует и вас, и {dogName}.",
		URLTemplate: "/training",
	},
	{
		ID:          "l1-emotional-first-steps",
		Type:        models.TypeEmotional,
		Level:       1,
		Title:       "Начало положено",
		Body:        "{username}, вы сделали первые {totalSteps} шагов. Продолжим?",
		URLTemplate: "/training",
		Conditions:  &models.Conditions{MaxSteps: 9},
	},

	// Level 2: educational, remind what they learned
	{
		ID:          "l2-educational-best-course",
		Type:        models.TypeEducational,
		Level:       2,
		Title:       "Повторим «{bestCourseName}»?",
		Body:        "Навыки закрепляются повторением. Вернитесь к курсу «{bestCourseName}» и освежите упражнения.",
		URLTemplate: "/courses/{bestCourseId}",
		Conditions:  &models.Conditions{RequiresCompletedCourses: true},
	},
	{
		ID:          "l2-educational-tip",
		Type:        models.TypeEducational,
		Level:       2,
		Title:       "Совет дня для {dogName}",
		Body:        "Короткие занятия по 5 минут эффективнее редких длинных. Попробуйте сегодня!",
		URLTemplate: "/training",
	},
	{
		ID:          "l2-educational-courses",
		Type:        models.TypeEducational,
		Level:       2,
		Title:       "Пройдено курсов: {completedCourses}",
		Body:        "{username}, у нас есть новые курсы, которые продолжат то, что вы уже освоили.",
		URLTemplate: "/courses",
		Conditions:  &models.Conditions{RequiresCompletedCourses: true},
	},

	// Level 3: motivational, social proof
	{
		ID:          "l3-motivational-weekly",
		Type:        models.TypeMotivational,
		Level:       3,
		Title:       "На этой неделе завершено курсов: {weeklyStats}",
		Body:        "Другие владельцы продолжают заниматься. {username}, присоединяйтесь!",
		URLTemplate: "/courses",
	},
	{
		ID:          "l3-motivational-today",
		Type:        models.TypeMotivational,
		Level:       3,
		Title:       "Сегодня тренируются {activeTodayUsers} человек",
		Body:        "Станьте одним из них: одно упражнение с {dogName} займёт пару минут.",
		URLTemplate: "/training",
	},
	{
		ID:          "l3-motivational-experienced",
		Type:        models.TypeMotivational,
		Level:       3,
		Title:       "{totalSteps} шагов не должны пропасть",
		Body:        "{username}, вы уже опытный тренер. Закрепите результат курсом «{bestCourseName}».",
		URLTemplate: "/courses/{bestCourseId}",
		Conditions:  &models.Conditions{RequiresCompletedCourses: true, MinSteps: 20},
	},

	// Level 4: mixed, the last message of the campaign
	{
		ID:          "l4-mixed-last-call",
		Type:        models.TypeMixed,
		Level:       4,
		Title:       "{username}, последнее напоминание",
		Body:        "Мы больше не будем беспокоить. Если решите вернуться, {dogName} и все ваши {totalSteps} шагов ждут вас.",
		URLTemplate: "/training",
	},
	{
		ID:          "l4-mixed-course-return",
		Type:        models.TypeMixed,
		Level:       4,
		Title:       "Курс «{bestCourseName}» ждёт",
		Body:        "{username}, вы прошли {completedCourses} курс(ов). Вернитесь и продолжите с того, на чём остановились.",
		URLTemplate: "/courses/{bestCourseId}",
		Conditions:  &models.Conditions{RequiresCompletedCourses: true},
	},
	{
		ID:          "l4-mixed-dog",
		Type:        models.TypeMixed,
		Level:       4,
		Title:       "{dogName} всё ещё готов учиться",
		Body:        "Собаки учатся всю жизнь. Начните с одного простого упражнения сегодня.",
		URLTemplate: "/training",
		Conditions:  &models.Conditions{RequiresDogName: true},
	},
}

// All returns a copy of the whole catalog
func All() []models.MessageVariant {
	out := make([]models.MessageVariant, len(catalog))
	copy(out, catalog)
	return out
}

// Get returns a variant by ID
func Get(id string) (models.MessageVariant, bool) {
	for _, v := range catalog {
		if v.ID == id {
			return v, true
		}
	}
	return models.MessageVariant{}, false
}

// VariantsByLevel returns all variants for a campaign level
func VariantsByLevel(level int) []models.MessageVariant {
	var out []models.MessageVariant
	for _, v := range catalog {
		if v.Level == level {
			out = append(out, v)
		}
	}
	return out
}

// VariantsByType returns all variants of the given type
func VariantsByType(t models.MessageType) []models.MessageVariant {
	var out []models.MessageVariant
	for _, v := range catalog {
		if v.Type == t {
			out = append(out, v)
		}
	}
	return out
}
