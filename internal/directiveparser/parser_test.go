package directiveparser

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		directive string
		want      Directive
		wantErr   bool
	}{
		{
			name:      "Empty",
			directive: "",
			wantErr:   true,
		},
		{
			name:      "UnknownDirective",
			directive: "bind:api /users",
			wantErr:   true,
		},
		{
			name:      "Inject",
			directive: "bind:inject",
			want:      &DirectiveInject{},
		},
		{
			name:      "InjectScoped",
			directive: "bind:inject scope=singleton",
			want:      &DirectiveInject{Scopes: []string{"singleton"}},
		},
		{
			name:      "InjectQualified",
			directive: `bind:inject qualifier="primary" scope=request`,
			want:      &DirectiveInject{Scopes: []string{"request"}, Qualifiers: []string{"primary"}},
		},
		{
			name:      "InjectRepeatedScopes",
			directive: "bind:inject scope=singleton scope=reusable",
			want:      &DirectiveInject{Scopes: []string{"singleton", "reusable"}},
		},
		{
			name:      "Module",
			directive: "bind:module",
			want:      &DirectiveModule{Module: true},
		},
		{
			name:      "Provides",
			directive: "bind:provides",
			want:      &DirectiveProvides{},
		},
		{
			name:      "ProvidesIntoSet",
			directive: "bind:provides into=set",
			want:      &DirectiveProvides{Into: IntoSet},
		},
		{
			name:      "ProvidesIntoMap",
			directive: `bind:provides into=map key="users" qualifier="http"`,
			want:      &DirectiveProvides{Into: IntoMap, Key: "users", Qualifiers: []string{"http"}},
		},
		{
			name:      "ProvidesMapWithoutKey",
			directive: "bind:provides into=map",
			wantErr:   true,
		},
		{
			name:      "ProvidesKeyWithoutMap",
			directive: `bind:provides key="users"`,
			wantErr:   true,
		},
		{
			name:      "ProvidesIntoList",
			directive: "bind:provides into=list",
			wantErr:   true,
		},
		{
			name:      "ProducesCannotBeScoped",
			directive: "bind:produces scope=singleton",
			wantErr:   true,
		},
		{
			name:      "Produces",
			directive: "bind:produces into=set",
			want:      &DirectiveProduces{Into: IntoSet},
		},
		{
			name:      "Binds",
			directive: `bind:binds qualifier="reader"`,
			want:      &DirectiveBinds{Qualifiers: []string{"reader"}},
		},
		{
			name:      "Optional",
			directive: "bind:optional",
			want:      &DirectiveOptional{},
		},
		{
			name:      "Multibinds",
			directive: "bind:multibinds",
			want:      &DirectiveMultibinds{},
		},
		{
			name:      "Component",
			directive: "bind:component modules=ConfigModule,db.Module subcomponents=Request scopes=singleton",
			want: &DirectiveComponent{
				Modules:       []string{"ConfigModule", "db.Module"},
				Subcomponents: []string{"Request"},
				Scopes:        []string{"singleton"},
			},
		},
		{
			name:      "ProductionSubcomponent",
			directive: "bind:subcomponent production scopes=request,session",
			want: &DirectiveComponent{
				Subcomponent: true,
				Production:   true,
				Scopes:       []string{"request", "session"},
			},
		},
		{
			name:      "ComponentCannotDeclareReusable",
			directive: "bind:component scopes=reusable",
			wantErr:   true,
		},
		{
			name:      "UnquotedQualifier",
			directive: "bind:inject qualifier=primary",
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.directive)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirectiveString(t *testing.T) {
	tests := []string{
		"bind:inject",
		`bind:inject scope=singleton qualifier="primary"`,
		"bind:module",
		`bind:provides scope=singleton into=map key="users"`,
		"bind:produces into=set",
		`bind:binds qualifier="reader"`,
		"bind:optional",
		"bind:multibinds",
		"bind:component modules=ConfigModule,db.Module subcomponents=Request scopes=singleton",
		"bind:subcomponent scopes=request production",
	}
	for _, directive := range tests {
		t.Run(directive, func(t *testing.T) {
			parsed, err := Parse(directive)
			assert.NoError(t, err)
			assert.Equal(t, directive, parsed.String())
		})
	}
}

func TestAccessors(t *testing.T) {
	parsed, err := Parse(`bind:provides scope=singleton qualifier="primary"`)
	assert.NoError(t, err)
	provides := parsed.(*DirectiveProvides)
	assert.Equal(t, "singleton", provides.Scope())
	assert.Equal(t, "primary", provides.Qualifier())

	parsed, err = Parse("bind:inject")
	assert.NoError(t, err)
	inject := parsed.(*DirectiveInject)
	assert.Equal(t, "", inject.Scope())
	assert.Equal(t, "", inject.Qualifier())
}
