package domain

// Meeting is the group namespace a hub fans messages out to.
type Meeting struct {
	ID MeetingID
}

// Member represents user's participation in a meeting.
// No transport or lifecycle logic here.
type Member struct {
	User *User
}

func NewMember(user *User) *Member {
	return &Member{User: user}
}
