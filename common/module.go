package common

type Module string

const (
	ModulePosts Module = "posts"
)

func (m Module) String() string {
	return string(m)
}
