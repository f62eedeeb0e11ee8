// Package fixtures provides domain fixture events for tests: a small
// course subscription domain with courses, students, and subscriptions.
package fixtures

import (
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event type identifiers.
const (
	CourseDefinedEventType       = "CourseDefined"
	CourseCapacityChangedType    = "CourseCapacityChanged"
	StudentSubscribedEventType   = "StudentSubscribed"
	StudentUnsubscribedEventType = "StudentUnsubscribed"
)

// GivenUniqueID returns a fresh unique identifier for fixture entities
// and event ids.
func GivenUniqueID() string {
	return uuid.New().String()
}

// CourseTag builds the tag that scopes events to one course.
func CourseTag(courseID string) string {
	return "course:" + courseID
}

// StudentTag builds the tag that scopes events to one student.
func StudentTag(studentID string) string {
	return "student:" + studentID
}

type courseDefinedPayload struct {
	CourseID string `json:"courseId"`
	Title    string `json:"title"`
	Capacity int    `json:"capacity"`
}

type courseCapacityChangedPayload struct {
	CourseID string `json:"courseId"`
	Capacity int    `json:"capacity"`
}

type subscriptionPayload struct {
	StudentID string `json:"studentId"`
	CourseID  string `json:"courseId"`
}

// BuildCourseDefined creates a CourseDefined event tagged with the course.
func BuildCourseDefined(courseID, title string, capacity int) eventstore.Event {
	payload := mustMarshal(courseDefinedPayload{CourseID: courseID, Title: title, Capacity: capacity})

	return mustBuildEvent(GivenUniqueID(), CourseDefinedEventType, payload, CourseTag(courseID))
}

// BuildCourseCapacityChanged creates a CourseCapacityChanged event tagged
// with the course.
func BuildCourseCapacityChanged(courseID string, capacity int) eventstore.Event {
	payload := mustMarshal(courseCapacityChangedPayload{CourseID: courseID, Capacity: capacity})

	return mustBuildEvent(GivenUniqueID(), CourseCapacityChangedType, payload, CourseTag(courseID))
}

// BuildStudentSubscribed creates a StudentSubscribed event tagged with
// both the student and the course.
func BuildStudentSubscribed(studentID, courseID string) eventstore.Event {
	payload := mustMarshal(subscriptionPayload{StudentID: studentID, CourseID: courseID})

	return mustBuildEvent(
		GivenUniqueID(), StudentSubscribedEventType, payload,
		StudentTag(studentID), CourseTag(courseID),
	)
}

// BuildStudentUnsubscribed creates a StudentUnsubscribed event tagged with
// both the student and the course.
func BuildStudentUnsubscribed(studentID, courseID string) eventstore.Event {
	payload := mustMarshal(subscriptionPayload{StudentID: studentID, CourseID: courseID})

	return mustBuildEvent(
		GivenUniqueID(), StudentUnsubscribedEventType, payload,
		StudentTag(studentID), CourseTag(courseID),
	)
}

func mustMarshal(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshaling fixture payload failed: %s", err))
	}

	return payload
}

func mustBuildEvent(id, eventType string, payload []byte, tags ...string) eventstore.Event {
	event, err := eventstore.BuildEvent(id, eventType, payload, tags...)
	if err != nil {
		panic(fmt.Sprintf("building fixture event failed: %s", err))
	}

	return event
}
