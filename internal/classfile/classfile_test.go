package classfile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adelbertc/ensime-server/internal/classfile/classfiletest"
	"github.com/adelbertc/ensime-server/pkg/types"
)

func TestParsePublicClass(t *testing.T) {
	data := classfiletest.Build(classfiletest.Spec{
		Name:       "org/example/Greeter",
		Access:     classfiletest.AccPublic,
		SourceName: "Greeter.java",
		Methods: []classfiletest.Member{
			{Name: "greet", Descriptor: "(Ljava/lang/String;)V", Access: classfiletest.AccPublic, Line: 12},
			{Name: "helper", Descriptor: "()V", Access: classfiletest.AccPrivate, Line: 20},
		},
		Fields: []classfiletest.Member{
			{Name: "name", Descriptor: "Ljava/lang/String;", Access: classfiletest.AccPublic},
		},
	})

	cls, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "org.example.Greeter", cls.Name.FQN())
	assert.Equal(t, "org/example/Greeter", cls.Name.Internal())
	assert.Equal(t, "java.lang.Object", cls.SuperClass.FQN())
	assert.Equal(t, types.AccessPublic, cls.Access)
	assert.True(t, cls.IsPublic())

	require.NotNil(t, cls.SourceName)
	assert.Equal(t, "Greeter.java", *cls.SourceName)

	require.Len(t, cls.Methods, 2)
	assert.Equal(t, "greet", cls.Methods[0].Name)
	assert.Equal(t, "(Ljava/lang/String;)V", cls.Methods[0].Descriptor)
	assert.Equal(t, types.AccessPublic, cls.Methods[0].Access)
	require.NotNil(t, cls.Methods[0].Line)
	assert.Equal(t, 12, *cls.Methods[0].Line)
	assert.Equal(t, types.AccessPrivate, cls.Methods[1].Access)

	require.Len(t, cls.Fields, 1)
	assert.Equal(t, "name", cls.Fields[0].Name)
}

func TestParseClassLineIsSmallestMethodLine(t *testing.T) {
	data := classfiletest.Build(classfiletest.Spec{
		Name:   "Foo",
		Access: classfiletest.AccPublic,
		Methods: []classfiletest.Member{
			{Name: "b", Descriptor: "()V", Access: classfiletest.AccPublic, Line: 30},
			{Name: "a", Descriptor: "()V", Access: classfiletest.AccPublic, Line: 7},
		},
	})

	cls, err := Parse(data)
	require.NoError(t, err)
	require.NotNil(t, cls.SourceLine)
	assert.Equal(t, 7, *cls.SourceLine)
}

func TestParseNoLineTable(t *testing.T) {
	data := classfiletest.Build(classfiletest.Spec{
		Name:   "Bare",
		Access: classfiletest.AccPublic,
		Methods: []classfiletest.Member{
			{Name: "m", Descriptor: "()V", Access: classfiletest.AccPublic},
		},
	})

	cls, err := Parse(data)
	require.NoError(t, err)
	assert.Nil(t, cls.SourceLine)
	assert.Nil(t, cls.Methods[0].Line)
	assert.Nil(t, cls.SourceName)
}

func TestParseNonPublicClass(t *testing.T) {
	data := classfiletest.Build(classfiletest.Spec{Name: "pkg/Hidden"})

	cls, err := Parse(data)
	require.NoError(t, err)
	assert.False(t, cls.IsPublic())
	assert.Equal(t, types.AccessDefault, cls.Access)
}

func TestParseAccessTiers(t *testing.T) {
	tests := []struct {
		flags  uint16
		access types.Access
	}{
		{classfiletest.AccPublic, types.AccessPublic},
		{classfiletest.AccProtected, types.AccessProtected},
		{classfiletest.AccPrivate, types.AccessPrivate},
		{0, types.AccessDefault},
	}
	for _, tt := range tests {
		data := classfiletest.Build(classfiletest.Spec{
			Name:   "T",
			Access: classfiletest.AccPublic,
			Fields: []classfiletest.Member{
				{Name: "f", Descriptor: "I", Access: tt.flags},
			},
		})
		cls, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, tt.access, cls.Fields[0].Access)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":     {},
		"bad magic": {0x00, 0x01, 0x02, 0x03, 0x00, 0x00},
		"truncated": classfiletest.Build(classfiletest.Spec{Name: "T", Access: classfiletest.AccPublic})[:20],
	}
	for name, data := range cases {
		_, err := Parse(data)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, types.ErrMalformedClass), name)

		var parseErr *ParseError
		assert.True(t, errors.As(err, &parseErr), name)
	}
}

func TestParseInnerClassName(t *testing.T) {
	data := classfiletest.Build(classfiletest.Spec{
		Name:   "org/example/Outer$Inner",
		Access: classfiletest.AccPublic,
	})
	cls, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "org.example.Outer$Inner", cls.Name.FQN())
	assert.Equal(t, "Outer$Inner", cls.Name.Simple())
	assert.Equal(t, "org.example", cls.Name.Package())
}
