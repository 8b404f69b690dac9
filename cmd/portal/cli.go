package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/eremconecta/portal/internal/accessibility"
	"github.com/eremconecta/portal/internal/app"
	"github.com/eremconecta/portal/internal/model"
	"github.com/eremconecta/portal/internal/narration"
	"github.com/eremconecta/portal/internal/session"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	portal *app.Portal
	out    io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  signin -email EMAIL                         - sign in, the password is prompted next")
	fmt.Fprintln(cli.out, "  signup -email EMAIL -name NAME -role ROLE -school ID -class ID [-deficiency Visual|Auditiva] [-shift SHIFT]")
	fmt.Fprintln(cli.out, "  signout                                     - end the session")
	fmt.Fprintln(cli.out, "  whoami [-watch] [-speak]                    - show the signed-in principal and profile")
	fmt.Fprintln(cli.out, "  schools                                     - list schools")
	fmt.Fprintln(cli.out, "  classes -school ID                          - list the classes of a school")
	fmt.Fprintln(cli.out, "  enroll -school ID -class ID                 - move the signed-in principal to a class")
	fmt.Fprintln(cli.out, "  profile [-user ID] [-name NAME] [-avatar URL] [-role ROLE] [-deficiency D] - edit a profile")
	fmt.Fprintln(cli.out, "  users                                       - list every profile")
	fmt.Fprintln(cli.out, "  latest [-limit N]                           - list the newest profiles")
	fmt.Fprintln(cli.out, "  say -text TEXT [-lang LANG]                 - speak a text")
	fmt.Fprintln(cli.out, "  describe -html FRAGMENT [-activate]         - speak the description of an element")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	signInCmd := flag.NewFlagSet("signin", flag.ContinueOnError)
	signInEmail := signInCmd.String("email", "", "The account email. The password will be prompted next.")

	signUpCmd := flag.NewFlagSet("signup", flag.ContinueOnError)
	signUpEmail := signUpCmd.String("email", "", "The account email. The password will be prompted next.")
	signUpName := signUpCmd.String("name", "", "Display name")
	signUpRole := signUpCmd.String("role", string(model.RoleStudent), "student, teacher or admin")
	signUpSchool := signUpCmd.String("school", "", "School id")
	signUpClass := signUpCmd.String("class", "", "Class id")
	signUpDeficiency := signUpCmd.String("deficiency", "", "Visual or Auditiva")
	signUpShift := signUpCmd.String("shift", "", "Shift")

	whoamiCmd := flag.NewFlagSet("whoami", flag.ContinueOnError)
	whoamiWatch := whoamiCmd.Bool("watch", false, "Keep printing changes until interrupted")
	whoamiSpeak := whoamiCmd.Bool("speak", false, "Greet the principal aloud")

	classesCmd := flag.NewFlagSet("classes", flag.ContinueOnError)
	classesSchool := classesCmd.String("school", "", "School id")

	enrollCmd := flag.NewFlagSet("enroll", flag.ContinueOnError)
	enrollSchool := enrollCmd.String("school", "", "School id")
	enrollClass := enrollCmd.String("class", "", "Class id")

	profileCmd := flag.NewFlagSet("profile", flag.ContinueOnError)
	profileName := profileCmd.String("name", "", "New display name")
	profileAvatar := profileCmd.String("avatar", "", "New avatar URL")
	profileUser := profileCmd.String("user", "", "Profile id to edit, the signed-in principal when unset")
	profileRole := profileCmd.String("role", "", "New role")
	profileDeficiency := profileCmd.String("deficiency", "", "New deficiency")

	latestCmd := flag.NewFlagSet("latest", flag.ContinueOnError)
	latestLimit := latestCmd.Int("limit", 0, "Number of profiles, 10 when unset")

	sayCmd := flag.NewFlagSet("say", flag.ContinueOnError)
	sayText := sayCmd.String("text", "", "Text to speak")
	sayLang := sayCmd.String("lang", "", "Language, the configured locale when unset")

	describeCmd := flag.NewFlagSet("describe", flag.ContinueOnError)
	describeHTML := describeCmd.String("html", "", "HTML fragment")
	describeActivate := describeCmd.Bool("activate", false, "Announce the element as activated")

	for _, fs := range []*flag.FlagSet{signInCmd, signUpCmd, whoamiCmd, classesCmd, enrollCmd, profileCmd, latestCmd, sayCmd, describeCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "signin":
		if err := signInCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *signInEmail == "" {
			signInCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		return cli.signIn(ctx, *signInEmail, pwd)

	case "signup":
		if err := signUpCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *signUpEmail == "" {
			signUpCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		req := model.SignUpRequest{
			Email:    *signUpEmail,
			Password: pwd,
			EnrollmentRequest: model.EnrollmentRequest{
				Name:     *signUpName,
				Role:     model.Role(*signUpRole),
				SchoolID: *signUpSchool,
				ClassID:  *signUpClass,
				Shift:    *signUpShift,
			},
		}
		if *signUpDeficiency != "" {
			d := model.Deficiency(*signUpDeficiency)
			req.Deficiency = &d
		}
		return cli.signUp(ctx, req)

	case "signout":
		if err := cli.portal.Auth.SignOut(ctx); err != nil {
			return fmt.Errorf("sign out: %s", model.ErrorMessage(err, "failed"))
		}
		fmt.Fprintln(cli.out, "Signed out.")
		return nil

	case "whoami":
		if err := whoamiCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.whoami(ctx, *whoamiWatch, *whoamiSpeak)

	case "schools":
		schools, err := cli.portal.Profiles.Schools(ctx)
		if err != nil {
			return err
		}
		for _, s := range schools {
			fmt.Fprintf(cli.out, "%s\t%s\n", s.ID, s.Name)
		}
		return nil

	case "classes":
		if err := classesCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *classesSchool == "" {
			classesCmd.Usage()
			return errHelp
		}
		classes, err := cli.portal.Profiles.Classes(ctx, *classesSchool)
		if err != nil {
			return err
		}
		for _, c := range classes {
			fmt.Fprintf(cli.out, "%s\t%s\t%s\n", c.ID, c.Name, deref(c.Year))
		}
		return nil

	case "enroll":
		if err := enrollCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *enrollSchool == "" || *enrollClass == "" {
			enrollCmd.Usage()
			return errHelp
		}
		principal, err := cli.principal(ctx)
		if err != nil {
			return err
		}
		if err := cli.portal.Profiles.UpdateEnrollment(ctx, principal.ID, *enrollSchool, *enrollClass); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "Enrollment updated.")
		return nil

	case "profile":
		if err := profileCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		var patch model.ProfilePatch
		if *profileName != "" {
			patch.Name = profileName
		}
		if *profileAvatar != "" {
			patch.AvatarURL = profileAvatar
		}
		if *profileRole != "" {
			r := model.Role(*profileRole)
			patch.Role = &r
		}
		if *profileDeficiency != "" {
			d := model.Deficiency(*profileDeficiency)
			patch.Deficiency = &d
		}
		userID := *profileUser
		var self *model.Principal
		if userID == "" {
			principal, err := cli.principal(ctx)
			if err != nil {
				return err
			}
			userID = principal.ID
			self = &principal
		}
		if err := cli.portal.Profiles.Update(ctx, userID, patch); err != nil {
			return err
		}
		if self != nil && patch.Name != nil {
			if err := cli.renamePrincipal(ctx, *self, *patch.Name); err != nil {
				return err
			}
		}
		fmt.Fprintln(cli.out, "Profile updated.")
		return nil

	case "users":
		users, err := cli.portal.Profiles.List(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(cli.out, "%s\t%s\t%s\t%s\n", u.ID, u.DisplayName(""), role(u.Role), className(&u))
		}
		return nil

	case "latest":
		if err := latestCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		rows, err := cli.portal.Profiles.Latest(ctx, *latestLimit)
		if err != nil {
			return err
		}
		for _, u := range rows {
			fmt.Fprintf(cli.out, "%s\t%s\t%s\n", u.ID, u.DisplayName(""), role(u.Role))
		}
		return nil

	case "say":
		if err := sayCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *sayText == "" {
			sayCmd.Usage()
			return errHelp
		}
		cli.portal.Narrator.Speak(*sayText, narration.Options{Lang: *sayLang})
		return cli.portal.Narrator.Drain(ctx)

	case "describe":
		if err := describeCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *describeHTML == "" {
			describeCmd.Usage()
			return errHelp
		}
		desc, err := narration.DescribeHTML(*describeHTML, cli.portal.Config.Locale)
		if err != nil {
			return err
		}
		cli.portal.Narrator.Speak(narration.Announcement(desc, *describeActivate), narration.Options{})
		return cli.portal.Narrator.Drain(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}

// renamePrincipal mirrors a new display name into the principal's metadata when the
// authentication service supports editing it.
func (cli *commandLine) renamePrincipal(ctx context.Context, p model.Principal, name string) error {
	updater, ok := cli.portal.Auth.(interface {
		UpdateMetadata(ctx context.Context, metadata map[string]any) (*model.Principal, error)
	})
	if !ok {
		return nil
	}
	metadata := make(map[string]any, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	metadata["name"] = name
	_, err := updater.UpdateMetadata(ctx, metadata)
	return err
}

func (cli *commandLine) readPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errors.New("empty password")
	}
	return string(pwd), nil
}

func (cli *commandLine) signIn(ctx context.Context, email, password string) error {
	s, err := cli.portal.Auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign in: %s", model.ErrorMessage(err, "failed"))
	}
	fmt.Fprintf(cli.out, "Signed in as %s.\n", s.Principal.Email)
	return nil
}

func (cli *commandLine) signUp(ctx context.Context, req model.SignUpRequest) error {
	p, err := cli.portal.Enroller.SignUp(ctx, req)
	if err != nil {
		return fmt.Errorf("sign up: %s", model.ErrorMessage(err, "failed"))
	}
	if p == nil {
		fmt.Fprintln(cli.out, "Check your email to confirm the account.")
		return nil
	}
	fmt.Fprintf(cli.out, "Registered %s (%s).\n", p.Email, p.ID)
	return nil
}

func (cli *commandLine) principal(ctx context.Context) (model.Principal, error) {
	s, err := cli.portal.Auth.GetSession(ctx)
	if err != nil {
		return model.Principal{}, err
	}
	if s == nil {
		return model.Principal{}, errors.New("not signed in")
	}
	return s.Principal, nil
}

// whoami mounts the synchronizer and prints its first settled snapshot, and every
// later one when watching.
func (cli *commandLine) whoami(ctx context.Context, watch, speak bool) error {
	snaps := make(chan session.Snapshot, 16)
	cancel := cli.portal.Sync.Subscribe(func(s session.Snapshot) {
		select {
		case snaps <- s:
		default:
		}
	})
	defer cancel()

	if err := cli.portal.Sync.Mount(ctx); err != nil {
		return err
	}
	defer cli.portal.Sync.Unmount()

	for {
		select {
		case <-ctx.Done():
			if watch {
				return nil
			}
			return ctx.Err()
		case s := <-snaps:
			if s.Loading {
				continue
			}
			cli.printSnapshot(s)
			if speak {
				cli.greet(ctx, s)
			}
			if !watch {
				return nil
			}
		}
	}
}

func (cli *commandLine) printSnapshot(s session.Snapshot) {
	if s.State != session.StateAuthenticated {
		fmt.Fprintln(cli.out, "Not signed in.")
		if s.Err != "" {
			fmt.Fprintf(cli.out, "Error: %s\n", s.Err)
		}
		return
	}
	fmt.Fprintf(cli.out, "Principal: %s <%s>\n", s.Principal.ID, s.Principal.Email)
	if s.Profile == nil {
		fmt.Fprintln(cli.out, "Profile: not enrolled")
	} else {
		p := s.Profile
		fmt.Fprintf(cli.out, "Profile: %s (%s)\n", p.DisplayName("-"), role(p.Role))
		if p.School != nil {
			fmt.Fprintf(cli.out, "School: %s\n", p.School.Name)
		}
		if c := className(p); c != "" {
			fmt.Fprintf(cli.out, "Class: %s\n", c)
		}
		prefs := accessibility.ForProfile(p)
		fmt.Fprintf(cli.out, "Accessibility: font %dpx, audio description %t, sign language %t\n",
			prefs.FontSize, prefs.AudioDescription, prefs.SignLanguage)
		if theme := accessibility.DeficiencyTheme(p.Deficiency); len(theme) > 0 {
			fmt.Fprintf(cli.out, "Theme: %s\n", strings.Join(theme, " "))
		}
	}
	if s.Err != "" {
		fmt.Fprintf(cli.out, "Error: %s\n", s.Err)
	}
}

func (cli *commandLine) greet(ctx context.Context, s session.Snapshot) {
	text := "Você não está conectado."
	if s.State == session.StateAuthenticated {
		text = "Olá, " + s.Profile.DisplayName("visitante") + "."
	}
	cli.portal.Narrator.Speak(text, narration.Options{})
	cli.portal.Narrator.Drain(ctx)
}

func role(r *model.Role) string {
	if r == nil {
		return "-"
	}
	return string(*r)
}

func className(p *model.Profile) string {
	if p.Class == nil {
		return ""
	}
	return p.Class.Name
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
