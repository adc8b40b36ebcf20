// Package personalize renders message variants for a concrete user.
package personalize

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/foxzi/reengage/internal/models"
)

const (
	DefaultUsername = "друг"
	DefaultDogName  = "ваш питомец"

	// CoursesLandingURL is used when a template needs a course the user does not have
	CoursesLandingURL = "/courses"
	// FallbackURL is used when rendering fails altogether
	FallbackURL = "/"

	minBestRating = 4
)

// Message is a rendered notification
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	URL   string            `json:"url"`
	Data  map[string]string `json:"data"`
}

// Tokens lists every placeholder the personalizer knows about
var Tokens = []string{
	"username",
	"dogName",
	"completedCourses",
	"totalSteps",
	"bestCourseName",
	"bestCourseId",
	"lastCourse",
	"weeklyStats",
	"activeTodayUsers",
}

var leftoverPattern = regexp.MustCompile(`\{(` + strings.Join(Tokens, "|") + `)\}`)

// Personalize renders a variant. It never fails: a panic while rendering
// yields the raw variant text and FallbackURL.
func Personalize(v models.MessageVariant, data *models.UserData) (msg Message) {
	defer func() {
		if r := recover(); r != nil {
			msg = Message{
				Title: v.Title,
				Body:  v.Body,
				URL:   FallbackURL,
				Data:  baseData(v, FallbackURL),
			}
		}
	}()

	if data == nil {
		data = &models.UserData{}
	}

	r := textReplacer(data)
	u := renderURL(v.URLTemplate, data)

	return Message{
		Title: r.Replace(v.Title),
		Body:  r.Replace(v.Body),
		URL:   u,
		Data:  baseData(v, u),
	}
}

// Validate returns the known placeholders still present in a rendered message
func Validate(msg Message) []string {
	seen := make(map[string]struct{})
	for _, s := range []string{msg.Title, msg.Body, msg.URL} {
		for _, m := range leftoverPattern.FindAllStringSubmatch(s, -1) {
			seen[m[1]] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BestCourse picks the highest-rated completed course rated at least 4,
// falling back to the most recently completed one.
func BestCourse(courses []models.CompletedCourse) *models.CompletedCourse {
	if len(courses) == 0 {
		return nil
	}

	var best *models.CompletedCourse
	for i := range courses {
		c := &courses[i]
		if c.Rating < minBestRating {
			continue
		}
		if best == nil || c.Rating > best.Rating {
			best = c
		}
	}
	if best != nil {
		return best
	}

	latest := &courses[0]
	for i := range courses {
		if courses[i].CompletedAt.After(latest.CompletedAt) {
			latest = &courses[i]
		}
	}
	return latest
}

func textReplacer(data *models.UserData) *strings.Replacer {
	username := data.Username
	if username == "" {
		username = DefaultUsername
	}
	dogName := data.DogName
	if dogName == "" {
		dogName = DefaultDogName
	}

	bestName := "ваш курс"
	if best := BestCourse(data.CompletedCourses); best != nil {
		bestName = best.Name
	}
	lastCourse := data.LastCourse
	if lastCourse == "" {
		lastCourse = bestName
	}

	weekly := "многие"
	activeToday := "многие"
	if data.Stats != nil {
		weekly = strconv.Itoa(data.Stats.WeeklyCompletions)
		activeToday = strconv.Itoa(data.Stats.ActiveTodayUsers)
	}

	return strings.NewReplacer(
		"{username}", username,
		"{dogName}", dogName,
		"{completedCourses}", strconv.Itoa(len(data.CompletedCourses)),
		"{totalSteps}", strconv.Itoa(data.TotalSteps),
		"{bestCourseName}", bestName,
		"{lastCourse}", lastCourse,
		"{weeklyStats}", weekly,
		"{activeTodayUsers}", activeToday,
	)
}

func renderURL(tmpl string, data *models.UserData) string {
	if tmpl == "" {
		return FallbackURL
	}
	if !strings.Contains(tmpl, "{bestCourseId}") && !strings.Contains(tmpl, "{bestCourseName}") {
		return tmpl
	}

	best := BestCourse(data.CompletedCourses)
	if best == nil {
		return CoursesLandingURL
	}

	return strings.NewReplacer(
		"{bestCourseId}", url.PathEscape(best.ID),
		"{bestCourseName}", url.QueryEscape(best.Name),
	).Replace(tmpl)
}

func baseData(v models.MessageVariant, u string) map[string]string {
	return map[string]string{
		"variantId":   v.ID,
		"messageType": string(v.Type),
		"level":       strconv.Itoa(v.Level),
		"url":         u,
	}
}
